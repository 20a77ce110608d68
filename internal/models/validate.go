package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateKey checks that every component of the key is present and known.
func ValidateKey(k RelationshipKey) error {
	if err := validate.Struct(k); err != nil {
		return validationError(err)
	}
	if !k.SourceType.Valid() {
		return fmt.Errorf("unknown source type %q", k.SourceType)
	}
	if !k.TargetType.Valid() {
		return fmt.Errorf("unknown target type %q", k.TargetType)
	}
	if !k.RelationshipType.Valid() {
		return fmt.Errorf("unknown relationship type %q", k.RelationshipType)
	}
	return nil
}

// ValidateRef checks a tenant-scoped entity reference.
func ValidateRef(tenantID string, ref EntityRef) error {
	if err := validate.Var(tenantID, "required,max=128"); err != nil {
		return errors.New("tenant id is required")
	}
	if err := validate.Struct(ref); err != nil {
		return validationError(err)
	}
	if !ref.Type.Valid() {
		return fmt.Errorf("unknown entity type %q", ref.Type)
	}
	return nil
}

// ValidateStruct exposes the shared validator for event envelopes and tool inputs.
func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return errors.New(strings.Join(parts, "; "))
}
