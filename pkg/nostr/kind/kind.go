// Package kind defines the event kind ranges and the well known kind
// numbers used by this client.
package kind

// T is an event kind number.
type T int

const (
	ProfileMetadata        T = 0
	TextNote               T = 1
	ContactList            T = 3
	EncryptedDirectMessage T = 4
	Deletion               T = 5
	Repost                 T = 6
	Reaction               T = 7
	Seal                   T = 13
	ChannelCreation        T = 40
	ChannelMessage         T = 42
	FileMetadata           T = 1063
	JobRequestStart        T = 5000
	JobRequestEnd          T = 5999
	JobResultStart         T = 6000
	JobResultEnd           T = 6999
	JobFeedback            T = 7000
	ZapRequest             T = 9734
	Zap                    T = 9735
	MuteList               T = 10000
	PinList                T = 10001
	RelayListMetadata      T = 10002
	ClientAuthentication   T = 22242
	NostrConnect           T = 24133
	CategorizedPeopleList  T = 30000
	ProfileBadges          T = 30008
	BadgeDefinition        T = 30009
	Article                T = 30023
	AppSpecificData        T = 30078
)

// IsReplaceable means the relay and client keep only the newest event per
// pubkey and kind.
func (k T) IsReplaceable() bool {
	return k == ProfileMetadata || k == ContactList ||
		(k >= 10000 && k < 20000)
}

// IsEphemeral events are not expected to be stored at all.
func (k T) IsEphemeral() bool {
	return k >= 20000 && k < 30000
}

// IsAddressable (parameterized replaceable) means only the newest event
// per pubkey, kind and d tag value is kept.
func (k T) IsAddressable() bool {
	return k >= 30000 && k < 40000
}

// IsRegular events are stored by relays and never replaced.
func (k T) IsRegular() bool {
	return !k.IsReplaceable() && !k.IsEphemeral() && !k.IsAddressable()
}

// IsJobRequest is the DVM request range.
func (k T) IsJobRequest() bool { return k >= JobRequestStart && k <= JobRequestEnd }

// IsJobResult is the DVM result range.
func (k T) IsJobResult() bool { return k >= JobResultStart && k <= JobResultEnd }
