package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	snapshotFormatVersionV1 uint8 = 1
	snapshotFormatVersionV2 uint8 = 2
)

const flagVerified byte = 1 << 0

// Encode serializes s in the current schema.
func Encode(s *Snapshot) ([]byte, error) {
	if s == nil {
		return nil, errors.New("snapshot is required")
	}

	var buf bytes.Buffer

	buf.WriteByte(CurrentSchemaVersion)

	var flags byte
	if s.Verified {
		flags |= flagVerified
	}
	buf.WriteByte(flags)

	if err := writeShortString(&buf, "userID", s.UserID); err != nil {
		return nil, err
	}
	if err := writeShortString(&buf, "email", s.Email); err != nil {
		return nil, err
	}
	if err := writeShortString(&buf, "role", s.Role); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.LoginAt); err != nil {
		return nil, err
	}

	// v2
	if err := writeShortString(&buf, "mobile", s.Mobile); err != nil {
		return nil, err
	}
	if err := writeShortString(&buf, "fullName", s.FullName); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses any supported schema version. The returned snapshot reports
// the version it was read from.
func Decode(data []byte) (*Snapshot, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != snapshotFormatVersionV1 && version != snapshotFormatVersionV2 {
		return nil, fmt.Errorf("unsupported snapshot schema version %d", version)
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		SchemaVersion: version,
		Verified:      flags&flagVerified != 0,
	}

	if s.UserID, err = readShortString(reader); err != nil {
		return nil, err
	}
	if s.Email, err = readShortString(reader); err != nil {
		return nil, err
	}
	if s.Role, err = readShortString(reader); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.LoginAt); err != nil {
		return nil, err
	}

	if version >= snapshotFormatVersionV2 {
		if s.Mobile, err = readShortString(reader); err != nil {
			return nil, err
		}
		if s.FullName, err = readShortString(reader); err != nil {
			return nil, err
		}
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes after snapshot")
	}

	return s, nil
}

func writeShortString(buf *bytes.Buffer, field, value string) error {
	if len(value) > 255 {
		return fmt.Errorf("%s too long", field)
	}
	buf.WriteByte(byte(len(value)))
	buf.WriteString(value)
	return nil
}

func readShortString(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	value := make([]byte, n)
	if _, err := io.ReadFull(reader, value); err != nil {
		return "", err
	}
	return string(value), nil
}
