// Package legacy imports state exported from the browser dashboard's localStorage.
//
// An export is a JSON object keyed by localStorage key. Each value is either the
// stored string (itself JSON) or the decoded JSON value. Older dashboards stored a
// user's personal key as a single string instead of a list; that shape is
// normalized here once, at load.
package legacy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ubuygold/stockmeta/internal/db"
	"github.com/ubuygold/stockmeta/internal/model"
)

// SchemaVersion is the current export schema. Version 1 exports may carry the
// single-string user key.
const SchemaVersion = 2

const (
	keyAdminKeys = "microstock_admin_keys"
	keySettings  = "microstock_settings"
	keyUserKeys  = "microstock_user_keys"
)

// DefaultKeyLabel labels a key migrated from the single-string shape.
const DefaultKeyLabel = "Default Key"

// KeyRecord is a credential as the dashboard stored it. Times are unix milliseconds.
type KeyRecord struct {
	Key        string `json:"key"`
	Status     string `json:"status"`
	UsageCount int64  `json:"usageCount"`
	LastUsed   int64  `json:"lastUsed"`
	DateAdded  int64  `json:"dateAdded"`
	Label      string `json:"label,omitempty"`
}

// State is a normalized export.
type State struct {
	Version   int
	AdminKeys []KeyRecord
	UserKeys  []KeyRecord
	Settings  *model.Settings
}

// Parse reads and normalizes an export. now stamps keys that carry no date.
func Parse(r io.Reader, now time.Time) (*State, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid legacy export: %w", err)
	}

	state := &State{Version: 1}
	if v, ok := raw["version"]; ok {
		if err := json.Unmarshal(v, &state.Version); err != nil {
			return nil, fmt.Errorf("invalid version: %w", err)
		}
		if state.Version < 1 || state.Version > SchemaVersion {
			return nil, fmt.Errorf("unsupported legacy export version %d", state.Version)
		}
	}

	var err error
	if state.AdminKeys, err = parseKeys(raw[keyAdminKeys], now, false); err != nil {
		return nil, fmt.Errorf("%s: %w", keyAdminKeys, err)
	}
	if state.UserKeys, err = parseKeys(raw[keyUserKeys], now, state.Version < 2); err != nil {
		return nil, fmt.Errorf("%s: %w", keyUserKeys, err)
	}
	if v := unwrap(raw[keySettings]); v != nil {
		var s struct {
			AutoScrapeTime      string `json:"autoScrapeTime"`
			LastScrapedDate     string `json:"lastScrapedDate"`
			IsAutoScrapeEnabled bool   `json:"isAutoScrapeEnabled"`
		}
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, fmt.Errorf("%s: %w", keySettings, err)
		}
		settings := model.DefaultSettings()
		if s.AutoScrapeTime != "" {
			settings.AutoScrapeTime = s.AutoScrapeTime
		}
		settings.LastScrapedDate = normalizeDate(s.LastScrapedDate)
		settings.IsAutoScrapeEnabled = s.IsAutoScrapeEnabled
		state.Settings = &settings
	}
	state.Version = SchemaVersion
	return state, nil
}

// unwrap returns the JSON a localStorage value holds. A JSON string that itself
// parses as JSON is decoded one level; any other string is returned as a JSON string.
func unwrap(v json.RawMessage) json.RawMessage {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || string(v) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return v
	}
	inner := strings.TrimSpace(s)
	if inner == "" || inner == "null" {
		return nil
	}
	if json.Valid([]byte(inner)) {
		return json.RawMessage(inner)
	}
	return v
}

func parseKeys(v json.RawMessage, now time.Time, allowString bool) ([]KeyRecord, error) {
	v = unwrap(v)
	if v == nil {
		return nil, nil
	}

	var single string
	if err := json.Unmarshal(v, &single); err == nil {
		if !allowString {
			return nil, errors.New("expected a list of keys")
		}
		single = strings.TrimSpace(single)
		if single == "" {
			return nil, nil
		}
		return []KeyRecord{{
			Key:       single,
			Status:    string(model.StatusActive),
			DateAdded: now.UnixMilli(),
			Label:     DefaultKeyLabel,
		}}, nil
	}

	var keys []KeyRecord
	if err := json.Unmarshal(v, &keys); err != nil {
		return nil, fmt.Errorf("expected a list of keys: %w", err)
	}
	out := keys[:0]
	for _, k := range keys {
		k.Key = strings.TrimSpace(k.Key)
		if k.Key == "" {
			continue
		}
		if !model.CredentialStatus(k.Status).Valid() {
			k.Status = string(model.StatusActive)
		}
		if k.DateAdded <= 0 {
			k.DateAdded = now.UnixMilli()
		}
		out = append(out, k)
	}
	return out, nil
}

// normalizeDate accepts YYYY-MM-DD and the browser's locale date (M/D/YYYY).
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "1/2/2006", "01/02/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// Credential converts a record into a credential of pool.
func (k KeyRecord) Credential(pool model.Pool, ownerID uint) model.Credential {
	c := model.Credential{
		Key:        k.Key,
		Label:      k.Label,
		Pool:       pool,
		OwnerID:    ownerID,
		Status:     model.CredentialStatus(k.Status),
		UsageCount: k.UsageCount,
	}
	if pool == model.PoolAdmin {
		c.OwnerID = 0
	}
	c.CreatedAt = time.UnixMilli(k.DateAdded)
	if k.LastUsed > 0 {
		t := time.UnixMilli(k.LastUsed)
		c.LastUsedAt = &t
	}
	return c
}

// Store is the persistence an import writes to.
type Store interface {
	CreateCredential(c *model.Credential) error
	SaveSettings(s *model.Settings) error
}

// Report counts what an import did.
type Report struct {
	AdminKeys       int  `json:"adminKeys"`
	UserKeys        int  `json:"userKeys"`
	Duplicates      int  `json:"duplicates"`
	SettingsApplied bool `json:"settingsApplied"`
}

// Apply writes the state to the store. User keys are assigned to ownerID; keys
// that already exist are counted and skipped.
func Apply(store Store, state *State, ownerID uint) (Report, error) {
	var report Report

	add := func(k KeyRecord, pool model.Pool) (bool, error) {
		c := k.Credential(pool, ownerID)
		err := store.CreateCredential(&c)
		if errors.Is(err, db.ErrDuplicate) {
			report.Duplicates++
			return false, nil
		}
		return err == nil, err
	}

	for _, k := range state.AdminKeys {
		ok, err := add(k, model.PoolAdmin)
		if err != nil {
			return report, err
		}
		if ok {
			report.AdminKeys++
		}
	}
	if len(state.UserKeys) > 0 && ownerID == 0 {
		return report, errors.New("user keys need an owner")
	}
	for _, k := range state.UserKeys {
		ok, err := add(k, model.PoolUser)
		if err != nil {
			return report, err
		}
		if ok {
			report.UserKeys++
		}
	}
	if state.Settings != nil {
		if err := store.SaveSettings(state.Settings); err != nil {
			return report, err
		}
		report.SettingsApplied = true
	}
	return report, nil
}
