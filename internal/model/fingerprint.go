package model

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for content fingerprints.
// Version suffix enables future algorithm migration.
const (
	DomainChild   = "rollcall/child/v1"
	DomainSession = "rollcall/session/v1"
	DomainRecord  = "rollcall/record/v1"
)

// ChildFingerprint hashes the authoritative fields of a child.
// Sync bookkeeping (LastSyncedAt) is excluded, so a replayed event
// hashes the same as the copy it already produced.
func ChildFingerprint(c Child) (string, error) {
	obj := map[string]any{
		"id":            c.ID,
		"guardian_id":   c.GuardianID,
		"first_name":    c.FirstName,
		"last_name":     c.LastName,
		"date_of_birth": timeValue(c.DateOfBirth),
		"medical_notes": c.MedicalNotes,
		"dietary_notes": c.DietaryNotes,
		"emergency_contact": map[string]any{
			"name":         c.EmergencyContact.Name,
			"phone":        c.EmergencyContact.Phone,
			"relationship": c.EmergencyContact.Relationship,
		},
		"status":     string(c.Status),
		"active":     c.Active,
		"updated_at": timeValue(c.UpdatedAt),
	}
	putString(obj, "current_session_id", c.CurrentSessionID)
	putTime(obj, "check_in_time", c.CheckInTime)
	putTime(obj, "check_out_time", c.CheckOutTime)
	return fingerprint(DomainChild, obj)
}

// SessionFingerprint hashes the authoritative fields of a session.
func SessionFingerprint(s Session) (string, error) {
	staff := make([]any, len(s.StaffIDs))
	for i, id := range s.StaffIDs {
		staff[i] = id
	}
	obj := map[string]any{
		"id":                  s.ID,
		"name":                s.Name,
		"min_age":             s.MinAge,
		"max_age":             s.MaxAge,
		"max_capacity":        s.MaxCapacity,
		"current_capacity":    s.CurrentCapacity,
		"accepting_check_ins": s.AcceptingCheckIns,
		"location":            s.Location,
		"staff_ids":           staff,
		"starts_at":           timeValue(s.StartsAt),
		"ends_at":             timeValue(s.EndsAt),
		"updated_at":          timeValue(s.UpdatedAt),
	}
	return fingerprint(DomainSession, obj)
}

// RecordFingerprint hashes the authoritative fields of a check-in record.
func RecordFingerprint(r CheckInRecord) (string, error) {
	obj := map[string]any{
		"id":            r.ID,
		"child_id":      r.ChildID,
		"session_id":    r.SessionID,
		"check_in_time": timeValue(r.CheckInTime),
		"checked_in_by": r.CheckedInBy,
		"notes":         r.Notes,
		"status":        string(r.Status),
	}
	putTime(obj, "check_out_time", r.CheckOutTime)
	putString(obj, "checked_out_by", r.CheckedOutBy)
	return fingerprint(DomainRecord, obj)
}

func putString(obj map[string]any, key string, v *string) {
	if v != nil {
		obj[key] = *v
	}
}

func putTime(obj map[string]any, key string, v *time.Time) {
	if v != nil {
		obj[key] = timeValue(*v)
	}
}

// timeValue renders t in UTC so the same instant always hashes the same.
func timeValue(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// fingerprint computes SHA-256 with domain separation over canonical JSON.
// Format: SHA256(domain + 0x00 + canonical)
func fingerprint(domain string, obj map[string]any) (string, error) {
	canonical, err := marshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", domain, err)
	}
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// marshalCanonical produces deterministic JSON: sorted object keys,
// NFC-normalized strings, no HTML escaping. Only the value shapes the
// fingerprint builders produce are accepted.
func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case string:
		return marshalCanonicalString(val)
	case int:
		return []byte(fmt.Sprintf("%d", val)), nil
	case int64:
		return []byte(fmt.Sprintf("%d", val)), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := marshalCanonical(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := marshalCanonicalString(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			b, err := marshalCanonical(val[k])
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			buf.Write(b)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

func marshalCanonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
