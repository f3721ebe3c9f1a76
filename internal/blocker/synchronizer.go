// Package blocker reconciles the platform's installed blocking rules with
// the rule set implied by the current schedule verdict, site list and active
// budget sessions.
package blocker

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"go.uber.org/zap"

	"github.com/peva0411/focusgate/internal/domain"
)

// Synchronizer owns the installed rule set. It keeps no persisted state and
// no last-known-good cache: every reconcile recomputes the desired set from
// its inputs and diffs against what the installer reports, so a transient
// install failure self-heals on the next trigger.
type Synchronizer struct {
	installer       domain.RuleInstaller
	interstitialURL string
	logger          *zap.Logger
}

// NewSynchronizer creates a synchronizer targeting the given interstitial
// page URL.
func NewSynchronizer(installer domain.RuleInstaller, interstitialURL string, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		installer:       installer,
		interstitialURL: interstitialURL,
		logger:          logger,
	}
}

// Reconcile computes the desired rule set and applies the symmetric
// difference against the installed set in one batched installer call.
// Idempotent: with unchanged inputs the second call applies nothing.
//
// A rule is desired iff blocking is active and the site is enabled and has
// no live budget session. Session exclusion is global per-pattern: while any
// tab holds a session for a site, that site's pattern is excluded for all
// tabs (the declarative rule surface carries no tab identity here).
func (s *Synchronizer) Reconcile(
	ctx context.Context,
	shouldBlock bool,
	sites []domain.BlockedSite,
	activeSessions map[string]bool,
) error {
	desired := s.desiredPatterns(shouldBlock, sites, activeSessions)

	installed, err := s.installer.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to read installed rules: %w", err)
	}

	diff := s.diffRules(installed, desired)
	if diff.Empty() {
		return nil
	}

	if err := s.installer.ApplyDiff(ctx, diff); err != nil {
		return fmt.Errorf("failed to apply rule diff: %w", err)
	}

	s.logger.Info("rules reconciled",
		zap.Int("added", len(diff.Add)),
		zap.Int("removed", len(diff.RemoveIDs)),
		zap.Int("desired", len(desired)))
	return nil
}

// desiredPatterns maps pattern -> site id for every rule that should exist.
// Duplicate patterns collapse to one rule.
func (s *Synchronizer) desiredPatterns(
	shouldBlock bool,
	sites []domain.BlockedSite,
	activeSessions map[string]bool,
) map[string]string {
	desired := make(map[string]string)
	if !shouldBlock {
		return desired
	}
	for _, site := range sites {
		if !site.Enabled || site.Pattern == "" {
			continue
		}
		if activeSessions[site.ID] {
			continue
		}
		desired[site.Pattern] = site.ID
	}
	return desired
}

// redirectTarget builds the interstitial URL for a blocked site. The {url}
// token is substituted by the rule installer with the originally requested
// URL, so the interstitial can offer the right budget context.
func (s *Synchronizer) redirectTarget(siteID string) string {
	return fmt.Sprintf("%s?site=%s&from={url}", s.interstitialURL, url.QueryEscape(siteID))
}

// diffRules computes the batched add/remove between installed and desired,
// keyed by pattern. New rules get ids above the highest surviving id.
func (s *Synchronizer) diffRules(installed []domain.Rule, desired map[string]string) domain.RuleDiff {
	var diff domain.RuleDiff

	have := make(map[string]domain.Rule, len(installed))
	maxID := 0
	for _, r := range installed {
		if _, want := desired[r.Pattern]; want {
			if _, dup := have[r.Pattern]; dup {
				// Duplicate rule for the same pattern; drop the extra.
				diff.RemoveIDs = append(diff.RemoveIDs, r.ID)
				continue
			}
			have[r.Pattern] = r
			if r.ID > maxID {
				maxID = r.ID
			}
			continue
		}
		diff.RemoveIDs = append(diff.RemoveIDs, r.ID)
	}

	// Deterministic id assignment for additions.
	missing := make([]string, 0, len(desired))
	for pattern := range desired {
		if _, ok := have[pattern]; !ok {
			missing = append(missing, pattern)
		}
	}
	sort.Strings(missing)

	for _, pattern := range missing {
		maxID++
		diff.Add = append(diff.Add, domain.Rule{
			ID:          maxID,
			Pattern:     pattern,
			RedirectURL: s.redirectTarget(desired[pattern]),
		})
	}
	sort.Ints(diff.RemoveIDs)

	return diff
}
