// Package models - API request types and validation.
// This file defines the incoming request bodies accepted by the admin API.
//
// Validation Strategy:
// - Requests are normalized before validation (trimmed, deduplicated)
// - Validation errors name the offending JSON field
// - Limits protect the CDN purge API from oversized batches
package models

import (
	"errors"
	"fmt"
	"strings"
)

// MaxInvalidateTags bounds the number of tags in a single purge request.
const MaxInvalidateTags = 100

// InvalidateRequest asks for the CDN entries carrying any of the given tags
// to be purged. Tag is accepted as shorthand for a single-element Tags.
type InvalidateRequest struct {
	Tags   []string `json:"tags,omitempty"`
	Tag    string   `json:"tag,omitempty"`
	Reason string   `json:"reason,omitempty"`
}

// Normalize merges Tag into Tags, trims every tag, drops blanks and removes
// duplicates while preserving first-seen order.
func (r *InvalidateRequest) Normalize() {
	all := r.Tags
	if r.Tag != "" {
		all = append([]string{r.Tag}, all...)
	}
	r.Tags = NormalizeTags(all)
	r.Tag = ""
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *InvalidateRequest) Validate() error {
	if len(r.Tags) == 0 {
		return errors.New("tags is required")
	}
	if len(r.Tags) > MaxInvalidateTags {
		return fmt.Errorf("tags cannot contain more than %d entries", MaxInvalidateTags)
	}
	for _, tag := range r.Tags {
		if strings.ContainsAny(tag, ", \t\r\n") {
			return fmt.Errorf("invalid tag: %q", tag)
		}
	}
	return nil
}

// NormalizeTags trims tags, drops blank entries and deduplicates preserving order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

type CreateAPIKeyRequest struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

func (r *CreateAPIKeyRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	if len(r.Permissions) == 0 {
		return errors.New("permissions is required")
	}
	for _, p := range r.Permissions {
		if !IsValidPermission(p) {
			return fmt.Errorf("invalid permission: %s", p)
		}
	}
	return nil
}
