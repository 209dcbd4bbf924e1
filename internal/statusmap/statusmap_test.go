package statusmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
)

func TestToPartnerID_KnownStatuses(t *testing.T) {
	for _, status := range []string{
		model.StatusUnsorted,
		model.StatusInWork,
		model.StatusNegotiation,
		model.StatusWaitingPayment,
		model.StatusCompleted,
		model.StatusScammer,
		model.StatusClientRejected,
		model.StatusLost,
	} {
		id, ok := ToPartnerID(status)
		assert.True(t, ok, "expected mapping for %q", status)
		assert.NotZero(t, id)
	}
}

func TestToPartnerID_Unknown(t *testing.T) {
	_, ok := ToPartnerID("paused")
	assert.False(t, ok)
}

func TestToInternalStatus_Unknown(t *testing.T) {
	_, ok := ToInternalStatus(99999)
	assert.False(t, ok)
}

func TestRoundTrip(t *testing.T) {
	for _, status := range []string{model.StatusUnsorted, model.StatusCompleted} {
		id, ok := ToPartnerID(status)
		require.True(t, ok)

		back, ok := ToInternalStatus(id)
		require.True(t, ok)
		assert.Equal(t, status, back)
	}
}

func TestMappingIsBijective(t *testing.T) {
	seen := make(map[int]string)
	for _, status := range []string{
		model.StatusUnsorted, model.StatusInWork, model.StatusNegotiation,
		model.StatusWaitingPayment, model.StatusCompleted, model.StatusScammer,
		model.StatusClientRejected, model.StatusLost,
	} {
		id, ok := ToPartnerID(status)
		require.True(t, ok)
		prev, dup := seen[id]
		require.False(t, dup, "partner id %d mapped by both %q and %q", id, prev, status)
		seen[id] = status
	}
}
