package audit

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/5h1ngy/dsk-electron-react-project-manager-sub002/internal/storage"
)

const (
	defaultRecordResult = "success"
	verifyPageSize      = 1_000_000
)

var ErrActionRequired = errors.New("audit: action is required")

// Service appends hash-chained events. The chain tip is read from the store
// under the service lock on every append, so a store swapped in by a restore
// continues its own chain.
type Service struct {
	repo storage.AuditRepository
	mu   sync.Mutex
	now  func() time.Time
}

func NewService(repo storage.AuditRepository) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("new audit service: repository is nil")
	}
	return &Service{repo: repo, now: time.Now}, nil
}

func (s *Service) Record(ctx context.Context, event Event) error {
	if strings.TrimSpace(event.Action) == "" {
		return ErrActionRequired
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	event.Timestamp = event.Timestamp.UTC()
	if event.Result == "" {
		event.Result = defaultRecordResult
	}

	details, err := canonicalizeDetails(event.Details)
	if err != nil {
		return fmt.Errorf("record audit event: canonicalize details: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tip, err := s.repo.ChainTip(ctx)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}

	link := chainLink{
		Timestamp:  event.Timestamp.Format(time.RFC3339Nano),
		Actor:      event.Actor,
		Action:     event.Action,
		TargetType: event.TargetType,
		TargetID:   event.TargetID,
		Result:     event.Result,
		Details:    details,
	}
	hash, err := link.hash(tip)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}

	entry := &storage.AuditEvent{
		UserID:      event.Actor,
		Action:      event.Action,
		TargetType:  event.TargetType,
		TargetID:    event.TargetID,
		Result:      event.Result,
		DetailsJSON: string(details),
		PrevHash:    tip,
		EventHash:   hash,
		CreatedAt:   event.Timestamp,
	}
	if err := s.repo.AppendWithTip(ctx, entry, hash); err != nil {
		return fmt.Errorf("record audit event: append: %w", err)
	}
	return nil
}

// Verify walks the log from the first event and recomputes every link.
func (s *Service) Verify(ctx context.Context) (*VerifyResult, error) {
	events, err := s.repo.List(ctx, storage.AuditFilter{Limit: verifyPageSize})
	if err != nil {
		return nil, fmt.Errorf("verify audit chain: list events: %w", err)
	}

	prev := ""
	for _, event := range events {
		link, err := linkFromStored(event)
		if err != nil {
			return nil, fmt.Errorf("verify audit chain: event %d: %w", event.ID, err)
		}
		expected, err := link.hash(prev)
		if err != nil {
			return nil, fmt.Errorf("verify audit chain: event %d: %w", event.ID, err)
		}
		if !constantTimeEqual(event.PrevHash, prev) || !constantTimeEqual(event.EventHash, expected) {
			return &VerifyResult{
				EventCount: len(events),
				ChainTip:   prev,
				Error:      fmt.Sprintf("hash mismatch at event %d", event.ID),
			}, nil
		}
		prev = event.EventHash
	}

	storedTip, err := s.repo.ChainTip(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify audit chain: %w", err)
	}
	if !constantTimeEqual(storedTip, prev) {
		return &VerifyResult{
			EventCount: len(events),
			ChainTip:   prev,
			Error:      "hash mismatch at chain tip",
		}, nil
	}

	return &VerifyResult{Valid: true, EventCount: len(events), ChainTip: prev}, nil
}

func (s *Service) List(ctx context.Context, filter Filter) ([]RecordedEvent, error) {
	events, err := s.repo.List(ctx, storage.AuditFilter{
		Action:   filter.Action,
		TargetID: filter.TargetID,
		Since:    filter.Since,
		Until:    filter.Until,
		Limit:    filter.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}

	out := make([]RecordedEvent, 0, len(events))
	for _, event := range events {
		out = append(out, RecordedEvent{
			ID:          event.ID,
			EventID:     event.EventID,
			Timestamp:   event.CreatedAt,
			Actor:       event.UserID,
			Action:      event.Action,
			TargetType:  event.TargetType,
			TargetID:    event.TargetID,
			Result:      event.Result,
			DetailsJSON: event.DetailsJSON,
			PrevHash:    event.PrevHash,
			EventHash:   event.EventHash,
		})
	}
	return out, nil
}

// chainLink is the hashed form of an event. Field order is irrelevant since
// it is serialized canonically.
type chainLink struct {
	Timestamp  string          `json:"timestamp"`
	Actor      string          `json:"actor,omitempty"`
	Action     string          `json:"action"`
	TargetType string          `json:"target_type,omitempty"`
	TargetID   string          `json:"target_id,omitempty"`
	Result     string          `json:"result"`
	Details    json.RawMessage `json:"details"`
}

func (l chainLink) hash(prev string) (string, error) {
	payload, err := canonicalJSON(l)
	if err != nil {
		return "", fmt.Errorf("canonical payload: %w", err)
	}
	sum := sha256.Sum256(append([]byte(prev), payload...))
	return hex.EncodeToString(sum[:]), nil
}

func linkFromStored(event storage.AuditEvent) (chainLink, error) {
	details := strings.TrimSpace(event.DetailsJSON)
	if details == "" {
		details = "{}"
	}
	if !json.Valid([]byte(details)) {
		return chainLink{}, fmt.Errorf("invalid details json")
	}

	result := event.Result
	if result == "" {
		result = defaultRecordResult
	}
	return chainLink{
		Timestamp:  event.CreatedAt.UTC().Format(time.RFC3339Nano),
		Actor:      event.UserID,
		Action:     event.Action,
		TargetType: event.TargetType,
		TargetID:   event.TargetID,
		Result:     result,
		Details:    json.RawMessage(details),
	}, nil
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
