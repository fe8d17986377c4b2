package usecase

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/core/port"
)

// signature maps a leading byte pattern to its content type. Entries are
// matched in table order, longest pattern first, so short prefixes like PE's
// 4D 5A never shadow a more specific match.
type signature struct {
	prefix []byte
	mime   domain.MimeType
}

var signatures = []signature{
	{[]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, domain.MimePNG},
	{[]byte{0x7F, 0x45, 0x4C, 0x46}, domain.MimeELF},
	{[]byte{0x47, 0x49, 0x46, 0x38}, domain.MimeGIF},
	{[]byte{0x25, 0x50, 0x44, 0x46}, domain.MimePDF},
	{[]byte{0xFF, 0xD8, 0xFF}, domain.MimeJPEG},
	{[]byte{0x42, 0x4D}, domain.MimeBMP},
	{[]byte{0x4D, 0x5A}, domain.MimePE},
}

// executableExtensions are final extensions that mark a double-extension
// filename as hostile when preceded by a media-looking segment.
var executableExtensions = map[string]bool{
	".exe": true, ".dll": true, ".bat": true, ".cmd": true,
	".scr": true, ".com": true, ".msi": true, ".sh": true,
}

var mediaExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".pdf": true,
}

const (
	executableConfidence = 0.95
	doubleExtConfidence  = 0.85
	mismatchConfidence   = 0.5
	patternConfidence    = 0.6

	// Pattern-heuristic thresholds over the rolling upload history.
	patternHourlyUploads  = 50
	patternDuplicateSizes = 10
	patternIntervalRuns   = 5
	patternHistoryWindow  = 24 * time.Hour

	flaggedBySystem = "system"
)

// ContentModerator screens upload bytes and upload behaviour. Per-upload
// scanning is synchronous and can block persistence; pattern analysis runs
// out-of-band and only ever flags.
type ContentModerator struct {
	flags       port.FlagRepository
	uploads     port.UploadRepository
	suspensions port.SuspensionRepository
	events      port.EventPublisher
	logger      *zap.Logger
	sniffLen    int
	now         func() time.Time
}

// NewContentModerator constructs a ContentModerator instance.
func NewContentModerator(flags port.FlagRepository, uploads port.UploadRepository, suspensions port.SuspensionRepository, events port.EventPublisher, sniffLen int, log *zap.Logger) *ContentModerator {
	if log == nil {
		log = zap.NewNop()
	}
	if sniffLen <= 0 {
		sniffLen = 512
	}

	moderator := &ContentModerator{
		flags:       flags,
		uploads:     uploads,
		suspensions: suspensions,
		events:      events,
		logger:      log,
		sniffLen:    sniffLen,
	}
	moderator.now = func() time.Time { return time.Now().UTC() }
	return moderator
}

// WithClock overrides the moderator clock for deterministic tests.
func (m *ContentModerator) WithClock(clock func() time.Time) *ContentModerator {
	if clock != nil {
		m.now = clock
	}
	return m
}

// Classify sniffs the content type from the leading bytes, ignoring whatever
// the client declared.
func (m *ContentModerator) Classify(data []byte) domain.MimeType {
	if len(data) > m.sniffLen {
		data = data[:m.sniffLen]
	}
	for _, sig := range signatures {
		if bytes.HasPrefix(data, sig.prefix) {
			return sig.mime
		}
	}
	// RIFF container: bytes 4-7 are the chunk size, 8-11 name the format.
	if len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return domain.MimeWebP
	}
	return domain.MimeUnknown
}

// ScanUpload runs the independent per-upload checks and aggregates them into
// a ScanResult. Each check contributes its own flag; none short-circuits the
// others, so a hostile file reports every signal it trips.
func (m *ContentModerator) ScanUpload(filename, declaredMime string, data []byte) domain.ScanResult {
	sniffed := m.Classify(data)
	result := domain.ScanResult{Sniffed: sniffed}

	if sniffed.IsExecutable() {
		result.Flags = append(result.Flags, domain.AbuseFlag{
			Reason:     fmt.Sprintf("executable signature %s", sniffed),
			Confidence: executableConfidence,
		})
	}

	if reason, ok := doubleExtension(filename); ok {
		result.Flags = append(result.Flags, domain.AbuseFlag{
			Reason:     reason,
			Confidence: doubleExtConfidence,
		})
	}

	declared := domain.MimeType(strings.ToLower(strings.TrimSpace(declaredMime)))
	if declared != "" && sniffed != domain.MimeUnknown && declared != sniffed {
		result.Flags = append(result.Flags, domain.AbuseFlag{
			Reason:     fmt.Sprintf("declared %s, sniffed %s", declared, sniffed),
			Confidence: mismatchConfidence,
		})
	}

	for _, flag := range result.Flags {
		if flag.Confidence < domain.BlockConfidence {
			m.logger.Info("low-confidence upload signal",
				zap.String("filename", filename),
				zap.String("reason", flag.Reason),
				zap.Float64("confidence", flag.Confidence),
			)
		}
	}

	return result
}

// doubleExtension reports a filename whose final extension is executable-like
// while an earlier segment mimics a media extension, e.g. photo.jpg.exe.
func doubleExtension(filename string) (string, bool) {
	lower := strings.ToLower(filepath.Base(filename))
	final := filepath.Ext(lower)
	if !executableExtensions[final] {
		return "", false
	}
	inner := filepath.Ext(strings.TrimSuffix(lower, final))
	if !mediaExtensions[inner] {
		return "", false
	}
	return fmt.Sprintf("double extension %q", inner+final), true
}

// RecordFlags persists the scan's signals as content flags and publishes
// them to the moderation queue. An executable signal at or above the
// suspension confidence additionally suspends the uploader.
func (m *ContentModerator) RecordFlags(ctx context.Context, identityID, imageID string, result domain.ScanResult) error {
	now := m.now()

	for _, flag := range result.Flags {
		record := domain.ContentFlag{
			ID:         uuid.NewString(),
			ImageID:    imageID,
			FlagType:   flagTypeFor(flag.Reason),
			Confidence: flag.Confidence,
			FlaggedBy:  flaggedBySystem,
			Metadata:   map[string]any{"reason": flag.Reason, "sniffed": string(result.Sniffed)},
			CreatedAt:  now,
		}
		if err := m.flags.Create(ctx, record); err != nil {
			return fmt.Errorf("record content flag: %w", err)
		}
		m.publishFlag(ctx, record, identityID, []string{flag.Reason})

		if record.FlagType == domain.FlagTypeMalware && flag.Confidence >= domain.SuspendConfidence {
			if err := m.suspend(ctx, identityID, "malware upload"); err != nil {
				m.logger.Error("automated suspension failed",
					zap.String("identity_id", identityID),
					zap.Error(err),
				)
			}
		}
	}

	return nil
}

func flagTypeFor(reason string) string {
	switch {
	case strings.Contains(reason, "executable"), strings.Contains(reason, "double extension"):
		return domain.FlagTypeMalware
	case strings.Contains(reason, "declared"):
		return domain.FlagTypeMismatch
	default:
		return domain.FlagTypeSuspicious
	}
}

// AnalyzePatterns runs the rolling-history heuristics for the identity:
// sustained upload rate, byte-identical sizes, and mechanical inter-upload
// cadence. Hits flag and publish, never block.
func (m *ContentModerator) AnalyzePatterns(ctx context.Context, identityID string) error {
	now := m.now()

	history, err := m.uploads.ListSince(ctx, identityID, now.Add(-patternHistoryWindow))
	if err != nil {
		return fmt.Errorf("load upload history: %w", err)
	}
	if len(history) == 0 {
		return nil
	}

	var reasons []string

	hourAgo := now.Add(-time.Hour)
	hourly := 0
	for _, u := range history {
		if u.CreatedAt.After(hourAgo) {
			hourly++
		}
	}
	if hourly > patternHourlyUploads {
		reasons = append(reasons, fmt.Sprintf("%d uploads in the last hour", hourly))
	}

	sizes := make(map[int64]int, len(history))
	for _, u := range history {
		sizes[u.SizeBytes]++
		if sizes[u.SizeBytes] == patternDuplicateSizes+1 {
			reasons = append(reasons, fmt.Sprintf("%d uploads of identical size %d bytes", sizes[u.SizeBytes], u.SizeBytes))
		}
	}

	if mechanicalCadence(history) {
		reasons = append(reasons, "inter-upload intervals clustered within one second")
	}

	if len(reasons) == 0 {
		return nil
	}

	// One suspicious flag per identity per hour is enough signal for the
	// moderation queue.
	existing, err := m.flags.CountSince(ctx, identityID, domain.FlagTypeSuspicious, hourAgo)
	if err != nil {
		return fmt.Errorf("count recent flags: %w", err)
	}
	if existing > 0 {
		return nil
	}

	record := domain.ContentFlag{
		ID:         uuid.NewString(),
		ImageID:    history[0].ID,
		FlagType:   domain.FlagTypeSuspicious,
		Confidence: patternConfidence,
		FlaggedBy:  flaggedBySystem,
		Metadata:   map[string]any{"reasons": reasons},
		CreatedAt:  now,
	}
	if err := m.flags.Create(ctx, record); err != nil {
		return fmt.Errorf("record pattern flag: %w", err)
	}

	m.logger.Warn("upload pattern flagged",
		zap.String("identity_id", identityID),
		zap.Strings("reasons", reasons),
	)
	m.publishFlag(ctx, record, identityID, reasons)

	return nil
}

// mechanicalCadence reports repeated inter-upload intervals that match their
// neighbour to within a second, the fingerprint of a scripted uploader.
func mechanicalCadence(history []domain.Upload) bool {
	if len(history) < patternIntervalRuns+2 {
		return false
	}

	times := make([]time.Time, len(history))
	for i, u := range history {
		times[i] = u.CreatedAt
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	run := 0
	prev := times[1].Sub(times[0])
	for i := 2; i < len(times); i++ {
		interval := times[i].Sub(times[i-1])
		delta := interval - prev
		if delta < 0 {
			delta = -delta
		}
		if delta <= time.Second {
			run++
			if run >= patternIntervalRuns {
				return true
			}
		} else {
			run = 0
		}
		prev = interval
	}
	return false
}

func (m *ContentModerator) suspend(ctx context.Context, identityID, reason string) error {
	// An already-suspended identity does not need a second row.
	if _, err := m.suspensions.GetActive(ctx, identityID); err == nil {
		return nil
	}

	now := m.now()
	suspension := domain.Suspension{
		ID:          uuid.NewString(),
		IdentityID:  identityID,
		Reason:      reason,
		SuspendedAt: now,
		Active:      true,
	}
	if err := m.suspensions.Create(ctx, suspension); err != nil {
		return fmt.Errorf("create suspension: %w", err)
	}

	m.logger.Warn("identity suspended",
		zap.String("identity_id", identityID),
		zap.String("reason", reason),
	)

	if m.events != nil {
		event := domain.SuspensionCreatedEvent{
			SuspensionID: suspension.ID,
			IdentityID:   identityID,
			Reason:       reason,
			SuspendedAt:  now,
		}
		if err := m.events.PublishSuspensionCreated(ctx, event); err != nil {
			m.logger.Warn("publish suspension created failed", zap.Error(err))
		}
	}

	return nil
}

func (m *ContentModerator) publishFlag(ctx context.Context, record domain.ContentFlag, identityID string, reasons []string) {
	if m.events == nil {
		return
	}
	event := domain.ContentFlaggedEvent{
		FlagID:     record.ID,
		ImageID:    record.ImageID,
		IdentityID: identityID,
		FlagType:   record.FlagType,
		Confidence: record.Confidence,
		Reasons:    reasons,
		FlaggedAt:  record.CreatedAt,
	}
	if err := m.events.PublishContentFlagged(ctx, event); err != nil {
		m.logger.Warn("publish content flagged failed", zap.Error(err))
	}
}
