package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Create(ctx context.Context, heading *Heading) error
	Update(ctx context.Context, heading *Heading) error
	List(ctx context.Context, orgID snowflake.ID) ([]Heading, error)
}

var (
	ErrHeadingNotFound    = errors.New("heading_not_found")
	ErrHeadingNameTaken   = errors.New("heading_name_taken")
	ErrUnknownDependency  = errors.New("unknown_dependency")
	ErrTaxHeadingOrder    = errors.New("tax_heading_order")
	ErrInvalidRules       = errors.New("invalid_rules")
	ErrInvalidHeadingType = errors.New("invalid_heading_type")
)

// CyclicDependencyError reports a rule dependency cycle between headings.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Cycle, " -> "))
}
