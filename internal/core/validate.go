package core

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator"
)

// userInput is the string form of an import row checked before building a User.
type userInput struct {
	Name             string `csv:"name" validate:"max=255"`
	Email            string `csv:"email" validate:"required,email,max=255"`
	PhoneNumber      string `csv:"phone_number" validate:"max=20"`
	Address          string `csv:"address" validate:"max=255"`
	Gender           string `csv:"gender" validate:"omitempty,oneof=male female other"`
	MembershipStatus string `csv:"membership_status" validate:"omitempty,oneof=active inactive pending expired"`
	Notes            string `csv:"notes"`
	ProfileImage     string `csv:"profile_image" validate:"max=255"`
}

var rowValidator = newRowValidator()

func newRowValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("csv")
	})
	return v
}

func userInputFrom(row *ImportRow) userInput {
	return userInput{
		Name:             row.Get(FieldName),
		Email:            row.Get(FieldEmail),
		PhoneNumber:      row.Get(FieldPhoneNumber),
		Address:          row.Get(FieldAddress),
		Gender:           row.Get(FieldGender),
		MembershipStatus: row.Get(FieldMembershipStatus),
		Notes:            row.Get(FieldNotes),
		ProfileImage:     row.Get(FieldProfileImage),
	}
}

// validateUserInput returns a readable reason, or "" when the input is valid.
func validateUserInput(in userInput) string {
	err := rowValidator.Struct(in)
	if err == nil {
		return ""
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("%s %q is not a valid email address", fe.Field(), fe.Value()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s %q must be one of: %s", fe.Field(), fe.Value(),
				strings.ReplaceAll(fe.Param(), " ", ", ")))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is not valid", fe.Field()))
		}
	}
	return strings.Join(msgs, "; ")
}
