package metadata

// Reserved keys. Values under these keys are set by the bus and the bridge.
const (
	// KeyFrom names the component that sent an envelope. Diagnostic only.
	KeyFrom = "relay_from"
	// KeyMessageID carries the envelope identifier across the bridge.
	KeyMessageID = "relay_message_id"
	// KeyMessageType carries the envelope type across the bridge.
	KeyMessageType = "relay_message_type"
	// KeyChannel carries the originating channel name across the bridge.
	KeyChannel = "relay_channel"
	// KeyVersion carries the envelope version across the bridge.
	KeyVersion = "relay_version"
)

// Metadata holds the string headers carried alongside an envelope.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	cloned := make(Metadata, len(m)+extra)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy. A nil receiver yields an empty, non-nil map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a copy containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a copy merged with entries; entries win on conflict.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// From returns the sender label, if any.
func (m Metadata) From() string {
	return m[KeyFrom]
}

// Get returns the value for key, or "" if it is absent.
func (m Metadata) Get(key string) string {
	return m[key]
}

// New constructs Metadata from alternating key/value pairs. A trailing key
// without a value is ignored.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
