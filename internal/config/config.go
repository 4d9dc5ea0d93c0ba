// Package config loads per-session settings from YAML and validates them
// against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Settings configures one FIX session.
type Settings struct {
	BeginString  string `yaml:"begin_string" json:"begin_string"`
	SenderCompID string `yaml:"sender_comp_id" json:"sender_comp_id"`
	TargetCompID string `yaml:"target_comp_id" json:"target_comp_id"`

	Storage    StorageSettings    `yaml:"storage" json:"storage"`
	Sequencing SequencingSettings `yaml:"sequencing" json:"sequencing"`
	Throttle   ThrottleSettings   `yaml:"throttle" json:"throttle"`
	Validation ValidationSettings `yaml:"validation" json:"validation"`
}

type StorageSettings struct {
	Type            string            `yaml:"type" json:"type"`
	Dir             string            `yaml:"dir" json:"dir"`
	Timestamps      TimestampSettings `yaml:"timestamps" json:"timestamps"`
	StorageGrowSize int64             `yaml:"storage_grow_size" json:"storage_grow_size"`
	MmapGrowSize    int64             `yaml:"mmap_grow_size" json:"mmap_grow_size"`
	IndexGrowSize   int64             `yaml:"index_grow_size" json:"index_grow_size"`
	MaxSliceSize    int64             `yaml:"max_slice_size" json:"max_slice_size"`
	CleanupMode     string            `yaml:"cleanup_mode" json:"cleanup_mode"`
	BackupDir       string            `yaml:"backup_dir" json:"backup_dir"`
}

type TimestampSettings struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Precision string `yaml:"precision" json:"precision"`
}

type SequencingSettings struct {
	// ResetThreshold detects a counterparty that reset its sequence numbers
	// without saying so: a Logon this far below the expected number is
	// accepted as the new baseline. 0 disables detection.
	ResetThreshold uint64 `yaml:"reset_threshold" json:"reset_threshold"`

	// AllowedSimilarResendRequests bounds how many resend requests may start
	// at the same sequence number. 0 or less means unbounded.
	AllowedSimilarResendRequests int `yaml:"allowed_similar_resend_requests" json:"allowed_similar_resend_requests"`

	AllowMultipleResendRequests bool `yaml:"allow_multiple_resend_requests" json:"allow_multiple_resend_requests"`
	PossDupSmartDelivery        bool `yaml:"possdup_smart_delivery" json:"possdup_smart_delivery"`
	IgnoreSeqNumTooLowAtLogon   bool `yaml:"ignore_seq_num_too_low_at_logon" json:"ignore_seq_num_too_low_at_logon"`
}

type ThrottleSettings struct {
	Enabled    bool           `yaml:"enabled" json:"enabled"`
	PeriodMs   int64          `yaml:"period_ms" json:"period_ms"`
	Thresholds map[string]int `yaml:"thresholds" json:"thresholds"`
}

// Period returns the throttle window length.
func (t ThrottleSettings) Period() time.Duration {
	return time.Duration(t.PeriodMs) * time.Millisecond
}

type ValidationSettings struct {
	CheckCompIDs             bool  `yaml:"check_comp_ids" json:"check_comp_ids"`
	CheckSendingTimeAccuracy bool  `yaml:"check_sending_time_accuracy" json:"check_sending_time_accuracy"`
	ReasonableDelayMs        int64 `yaml:"reasonable_delay_ms" json:"reasonable_delay_ms"`
	AccuracyMs               int64 `yaml:"accuracy_ms" json:"accuracy_ms"`
}

// Tolerance is the largest SendingTime deviation accepted.
func (v ValidationSettings) Tolerance() time.Duration {
	return time.Duration(v.ReasonableDelayMs+v.AccuracyMs) * time.Millisecond
}

// Default returns settings suitable for a FIX 4.4 session with an indexed log.
// Comp ids are left empty and must be supplied.
func Default() Settings {
	return Settings{
		BeginString: "FIX.4.4",
		Storage: StorageSettings{
			Type: "indexed",
			Dir:  "logs",
			Timestamps: TimestampSettings{
				Enabled:   true,
				Precision: "millis",
			},
			StorageGrowSize: 1 << 20,
			MmapGrowSize:    64 << 10,
			IndexGrowSize:   12 << 12,
			MaxSliceSize:    100 << 20,
			CleanupMode:     "backup",
		},
		Sequencing: SequencingSettings{
			AllowedSimilarResendRequests: 3,
		},
		Throttle: ThrottleSettings{
			PeriodMs:   1000,
			Thresholds: map[string]int{},
		},
		Validation: ValidationSettings{
			CheckCompIDs:      true,
			ReasonableDelayMs: 120000,
			AccuracyMs:        1000,
		},
	}
}

// Load reads a YAML settings file over the defaults and validates the result.
func Load(path string) (Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return Settings{}, fmt.Errorf("open settings: %w", err)
	}
	defer f.Close()

	s, err := Decode(f)
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// Decode parses YAML over the defaults and validates the result.
// Unknown keys are rejected.
func Decode(r io.Reader) (Settings, error) {
	s := Default()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	if s.Throttle.Thresholds == nil {
		s.Throttle.Thresholds = map[string]int{}
	}
	// Comp ids are compared byte for byte with inbound headers.
	s.SenderCompID = norm.NFC.String(s.SenderCompID)
	s.TargetCompID = norm.NFC.String(s.TargetCompID)

	if err := Validate(s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// ValidationError reports the first schema violation.
type ValidationError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ValidationError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks s against the #Settings schema.
func Validate(s Settings) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile settings schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Settings"))

	v := def.Unify(ctx.Encode(s))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// formatCUEError reduces a CUE error list to its first entry.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	field := strings.Join(first.Path(), ".")
	if field == "" {
		field = "settings"
	}

	format, args := first.Msg()
	msg := fmt.Sprintf(format, args...)

	ve := &ValidationError{Field: field, Message: msg}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		ve.Pos = positions[0]
	}
	return ve
}

// Marshal renders s as YAML.
func Marshal(s Settings) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	return buf.Bytes(), nil
}
