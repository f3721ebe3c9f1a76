package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/peva0411/focusgate/internal/domain"
)

// rulesDocVersion is the version of the published rules document format.
const rulesDocVersion = 1

// rulesDoc is the on-disk shape of the published dynamic rule set. The
// browser extension's service worker watches this file (via the native host)
// and mirrors it into declarativeNetRequest.
type rulesDoc struct {
	Version   int           `json:"version"`
	UpdatedAt time.Time     `json:"updatedAt"`
	Rules     []domain.Rule `json:"rules"`
}

// FileRuleInstaller implements domain.RuleInstaller by publishing the
// installed rule set as a JSON document, written atomically so the consumer
// never observes a partial rule set. The document is disposable derived
// state: a corrupt or missing file reads as an empty rule set, and the next
// reconcile rewrites it whole.
type FileRuleInstaller struct {
	path  string
	clock domain.Clock
}

// NewFileRuleInstaller creates an installer publishing to path.
func NewFileRuleInstaller(path string, clock domain.Clock) *FileRuleInstaller {
	return &FileRuleInstaller{path: path, clock: clock}
}

// ListRules returns the currently published rules.
func (f *FileRuleInstaller) ListRules(ctx context.Context) ([]domain.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read rules document: %w", err)
	}

	var doc rulesDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		// Derived state: treat corruption as empty and let the caller
		// rewrite the whole document.
		return nil, nil
	}
	return doc.Rules, nil
}

// ApplyDiff applies the batched remove+add and republishes the document in
// one atomic write.
func (f *FileRuleInstaller) ApplyDiff(ctx context.Context, diff domain.RuleDiff) error {
	current, err := f.ListRules(ctx)
	if err != nil {
		return err
	}

	remove := make(map[int]bool, len(diff.RemoveIDs))
	for _, id := range diff.RemoveIDs {
		remove[id] = true
	}

	next := make([]domain.Rule, 0, len(current)+len(diff.Add))
	for _, r := range current {
		if !remove[r.ID] {
			next = append(next, r)
		}
	}
	next = append(next, diff.Add...)
	sort.Slice(next, func(i, j int) bool { return next[i].ID < next[j].ID })

	return f.publish(next)
}

// publish writes the document atomically (temp file + rename).
func (f *FileRuleInstaller) publish(rules []domain.Rule) error {
	doc := rulesDoc{
		Version:   rulesDocVersion,
		UpdatedAt: f.clock.Now().UTC(),
		Rules:     rules,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create rules directory: %w", err)
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", f.path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write rules document: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to publish rules document: %w", err)
	}
	return nil
}

var _ domain.RuleInstaller = (*FileRuleInstaller)(nil)
