package journal

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the record message:
//
//	message Record {
//	  string run = 1;
//	  int32 kind = 2;
//	  int64 session = 3;
//	  string name = 4;
//	  string text = 5;
//	  string remote = 6;
//	  int64 target = 7;
//	  int64 unix_nano = 8;
//	}
const (
	fieldRun      protowire.Number = 1
	fieldKind     protowire.Number = 2
	fieldSession  protowire.Number = 3
	fieldName     protowire.Number = 4
	fieldText     protowire.Number = 5
	fieldRemote   protowire.Number = 6
	fieldTarget   protowire.Number = 7
	fieldUnixNano protowire.Number = 8
)

// Marshal encodes ev in protobuf wire format. Zero values are omitted, as
// proto3 does.
func Marshal(run string, ev Event) []byte {
	var b []byte
	b = appendString(b, fieldRun, run)
	b = appendVarint(b, fieldKind, uint64(ev.Kind))
	b = appendVarint(b, fieldSession, uint64(ev.Session))
	b = appendString(b, fieldName, ev.Name)
	b = appendString(b, fieldText, ev.Text)
	b = appendString(b, fieldRemote, ev.Remote)
	b = appendVarint(b, fieldTarget, uint64(ev.Target))
	if !ev.Time.IsZero() {
		b = appendVarint(b, fieldUnixNano, uint64(ev.Time.UnixNano()))
	}
	return b
}

// Unmarshal decodes a record produced by Marshal. Unknown fields are skipped.
func Unmarshal(b []byte) (Record, error) {
	var rec Record
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Record{}, fmt.Errorf("decode tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.BytesType && isStringField(num):
			var v string
			v, n = protowire.ConsumeString(b)
			if n >= 0 {
				switch num {
				case fieldRun:
					rec.Run = v
				case fieldName:
					rec.Name = v
				case fieldText:
					rec.Text = v
				case fieldRemote:
					rec.Remote = v
				}
			}
		case typ == protowire.VarintType && isVarintField(num):
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			if n >= 0 {
				switch num {
				case fieldKind:
					rec.Kind = Kind(int32(v))
				case fieldSession:
					rec.Session = int(int64(v))
				case fieldTarget:
					rec.Target = int(int64(v))
				case fieldUnixNano:
					rec.Time = time.Unix(0, int64(v))
				}
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}

		if n < 0 {
			return Record{}, fmt.Errorf("decode field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return rec, nil
}

func isStringField(num protowire.Number) bool {
	return num == fieldRun || num == fieldName || num == fieldText || num == fieldRemote
}

func isVarintField(num protowire.Number) bool {
	return num == fieldKind || num == fieldSession || num == fieldTarget || num == fieldUnixNano
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}
