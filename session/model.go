package session

// CurrentSchemaVersion is the snapshot encoding written by [Encode].
const CurrentSchemaVersion uint8 = snapshotFormatVersionV2

// Snapshot is the cached profile projection for one access token.
type Snapshot struct {
	SchemaVersion uint8

	UserID   string
	Email    string
	Mobile   string
	FullName string
	Role     string
	Verified bool

	// LoginAt is the unix second the token pair was issued.
	LoginAt int64
}
