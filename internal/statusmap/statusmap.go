// Package statusmap translates between the internal order status enum and
// the partner system's numeric status identifiers. The mapping table is
// derived once from the static status registry and is immutable at runtime.
package statusmap

import (
	"gitlab.com/arveo/api/crm-conversation-service/internal/model"
)

// registry is the static source of truth. Partner ids are assigned by the
// partner system and must match its pipeline configuration.
var registry = []struct {
	internal  string
	partnerID int
}{
	{model.StatusUnsorted, 142},
	{model.StatusInWork, 143},
	{model.StatusNegotiation, 144},
	{model.StatusWaitingPayment, 145},
	{model.StatusCompleted, 146},
	{model.StatusScammer, 147},
	{model.StatusClientRejected, 148},
	{model.StatusLost, 149},
}

var (
	toPartner  map[string]int
	toInternal map[int]string
)

func init() {
	toPartner = make(map[string]int, len(registry))
	toInternal = make(map[int]string, len(registry))
	for _, entry := range registry {
		toPartner[entry.internal] = entry.partnerID
		toInternal[entry.partnerID] = entry.internal
	}
}

// ToPartnerID maps an internal status to its partner status id. The second
// return is false when the status has no mapping; callers log and skip the
// sync rather than failing.
func ToPartnerID(internalStatus string) (int, bool) {
	id, ok := toPartner[internalStatus]
	return id, ok
}

// ToInternalStatus maps a partner status id back to the internal enum. The
// second return is false for unknown partner ids.
func ToInternalStatus(partnerID int) (string, bool) {
	status, ok := toInternal[partnerID]
	return status, ok
}
