package domain

import (
	"fmt"
	"regexp"
)

// Post ids are platform-assigned numeric strings.
var postIDRegex = regexp.MustCompile(`^\d+$`)

// ValidatePost checks a Post before it is written to any store.
func ValidatePost(p Post) error {
	if p.ID == "" {
		return NewValidationError("id", p.ID, ErrMissingID)
	}
	if !postIDRegex.MatchString(p.ID) {
		return NewValidationError("id", p.ID, fmt.Errorf("id must be numeric"))
	}
	if p.URL == "" {
		return NewValidationError("url", p.URL, ErrMissingURL)
	}
	if p.Content == "" {
		return NewValidationError("content", "", ErrEmptyContent)
	}
	if !ValidImportance(p.Importance) {
		return NewValidationError("importance", p.Importance, ErrBadImportance)
	}
	if len(p.Embedding) != 0 && len(p.Embedding) != EmbeddingDimension {
		return NewValidationError("embedding", fmt.Sprintf("%d", len(p.Embedding)), ErrBadEmbedding)
	}
	return nil
}
