package runtime

import (
	"regexp"

	"github.com/go-playground/validator/v10"

	"chatsync/errors"
)

var (
	displayNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]{2,30}$`)
	roomIDRe      = regexp.MustCompile(`^[a-z0-9-]{1,50}$`)
)

// JoinRequest is the validated entry point of a session.
type JoinRequest struct {
	ConnectionID string `validate:"required"`
	DisplayName  string `validate:"required,display_name"`
	RoomID       string `validate:"required,room_id"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	// Errors from RegisterValidation only occur on empty tag names.
	_ = v.RegisterValidation("display_name", func(fl validator.FieldLevel) bool {
		return displayNameRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("room_id", func(fl validator.FieldLevel) bool {
		return roomIDRe.MatchString(fl.Field().String())
	})
	return v
}

// validateJoin maps struct violations onto the engine's sentinel errors so
// callers can surface a stable message without parsing validator output.
func validateJoin(v *validator.Validate, req JoinRequest) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, ve := range verrs {
			switch ve.Field() {
			case "DisplayName":
				return errors.ErrInvalidDisplayName
			case "RoomID":
				return errors.ErrInvalidRoomID
			case "ConnectionID":
				return errors.ErrUnknownSession
			}
		}
	}
	return err
}

func validRoomID(roomID string) bool { return roomIDRe.MatchString(roomID) }
