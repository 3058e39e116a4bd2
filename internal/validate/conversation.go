package validate

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/aucontraire/echomine-sub001/pkg/archive"
	"github.com/aucontraire/echomine-sub001/pkg/model"
)

var errNotUTC = errors.New("must be in UTC")

func utc(value interface{}) error {
	t, ok := value.(time.Time)
	if !ok || t.IsZero() {
		return nil
	}
	if t.Location() != time.UTC {
		return errNotUTC
	}
	return nil
}

func notBefore(start time.Time) validation.RuleFunc {
	return func(value interface{}) error {
		t, _ := value.(time.Time)
		if !t.IsZero() && !start.IsZero() && t.Before(start) {
			return errors.New("must not be before created_at")
		}
		return nil
	}
}

func validMessage(value interface{}) error {
	m, ok := value.(model.Message)
	if !ok {
		return errors.New("not a message")
	}
	return validation.ValidateStruct(&m,
		validation.Field(&m.ID, validation.Required),
		validation.Field(&m.Role,
			validation.Required,
			validation.In(model.RoleUser, model.RoleAssistant, model.RoleSystem),
		),
		validation.Field(&m.Timestamp, validation.Required, validation.By(utc)),
	)
}

// Conversation checks the canonical invariants of c: non-empty id and
// title, UTC timestamps with created_at <= updated_at, at least one message,
// valid message fields and unique message ids.
func Conversation(c *model.Conversation, fallbackID string) error {
	id := c.ID
	if id == "" {
		id = fallbackID
	}

	err := validation.ValidateStruct(c,
		validation.Field(&c.ID, validation.Required),
		validation.Field(&c.Title, validation.Required),
		validation.Field(&c.CreatedAt, validation.Required, validation.By(utc)),
		validation.Field(&c.UpdatedAt,
			validation.Required,
			validation.By(utc),
			validation.By(notBefore(c.CreatedAt)),
		),
		validation.Field(&c.Messages,
			validation.Required,
			validation.Each(validation.By(validMessage)),
		),
	)
	if err != nil {
		return archive.Skip(id, archive.CategoryValidation, "%v", err)
	}

	seen := make(map[string]struct{}, len(c.Messages))
	for _, m := range c.Messages {
		if _, dup := seen[m.ID]; dup {
			return archive.Skip(id, archive.CategoryValidation, "duplicate message id %q", m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return nil
}
