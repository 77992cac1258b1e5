package kind

import "testing"

func TestRanges(t *testing.T) {
	for _, k := range []T{ProfileMetadata, ContactList, MuteList, RelayListMetadata, 19999} {
		if !k.IsReplaceable() {
			t.Errorf("%d should be replaceable", k)
		}
	}
	for _, k := range []T{TextNote, Deletion, Reaction, 20000, 30000} {
		if k.IsReplaceable() {
			t.Errorf("%d should not be replaceable", k)
		}
	}
	for _, k := range []T{30000, Article, AppSpecificData, 39999} {
		if !k.IsAddressable() {
			t.Errorf("%d should be addressable", k)
		}
	}
	if T(40000).IsAddressable() || T(29999).IsAddressable() {
		t.Error("addressable range bounds wrong")
	}
	if !T(22242).IsEphemeral() {
		t.Error("22242 should be ephemeral")
	}
	if !TextNote.IsRegular() || ContactList.IsRegular() {
		t.Error("regular classification wrong")
	}
}
