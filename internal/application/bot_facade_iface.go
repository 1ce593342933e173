package application

import (
	"telegram-lessons-bot/internal/domain/ports/adapter"
)

// Translator renders a localized message. The i18n package provides the real
// implementation; tests can pass a map-backed one.
type Translator interface {
	T(lang, key string, args ...interface{}) string
}

// Reply is a rendered answer: text plus optional inline keyboard rows.
// An empty Text means there is nothing to say.
type Reply struct {
	Text string
	Rows [][]adapter.InlineButton
}

func (r Reply) Empty() bool { return r.Text == "" }

func text(s string) Reply { return Reply{Text: s} }
