// Package messages holds the user-facing text shown in job status responses.
// Raw engine diagnostics never reach these strings.
package messages

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"silence-trimmer/internal/retry"
)

const (
	keyQueued      = "state.queued"
	keyRequeued    = "state.requeued"
	keyProcessing  = "state.processing"
	keyCompleted   = "state.completed"
	keyUnchanged   = "state.unchanged"
	keyFailMemory  = "failure.memory"
	keyFailTimeout = "failure.timeout"
	keyFailGeneric = "failure.generic"
	keyFailRetries = "failure.exhausted"
	keyFailInput   = "failure.input"
	keyFailBug     = "failure.internal"
	keyCancelled   = "failure.cancelled"
)

var entries = map[language.Tag]map[string]string{
	language.English: {
		keyQueued:      "Waiting in queue.",
		keyRequeued:    "A temporary problem occurred; retrying (attempt %d of %d).",
		keyProcessing:  "Removing silences.",
		keyCompleted:   "Done: removed %d silent sections and saved %.1f seconds.",
		keyUnchanged:   "No silences to remove; the video was left unchanged.",
		keyFailMemory:  "The video needs more memory than the server has available.",
		keyFailTimeout: "Processing took too long and was stopped.",
		keyFailGeneric: "The video could not be processed. It may be damaged or in an unsupported format.",
		keyFailRetries: "Processing failed after multiple attempts.",
		keyFailInput:   "The uploaded file is not a readable video.",
		keyFailBug:     "An internal error occurred while processing the video.",
		keyCancelled:   "The job was cancelled.",
	},
	language.Spanish: {
		keyQueued:      "En cola.",
		keyRequeued:    "Ocurrió un problema temporal; reintentando (intento %d de %d).",
		keyProcessing:  "Eliminando silencios.",
		keyCompleted:   "Listo: se eliminaron %d tramos en silencio y se ahorraron %.1f segundos.",
		keyUnchanged:   "No hay silencios que eliminar; el video no se modificó.",
		keyFailMemory:  "El video necesita más memoria de la disponible en el servidor.",
		keyFailTimeout: "El procesamiento tardó demasiado y se detuvo.",
		keyFailGeneric: "No se pudo procesar el video. Puede estar dañado o en un formato no compatible.",
		keyFailRetries: "El procesamiento falló tras varios intentos.",
		keyFailInput:   "El archivo subido no es un video legible.",
		keyFailBug:     "Ocurrió un error interno al procesar el video.",
		keyCancelled:   "El trabajo fue cancelado.",
	},
}

var (
	builder = catalog.NewBuilder(catalog.Fallback(language.English))
	matcher language.Matcher
)

func init() {
	for tag, msgs := range entries {
		for key, msg := range msgs {
			if err := builder.SetString(tag, key, msg); err != nil {
				panic(fmt.Sprintf("messages: register %s/%s: %v", tag, key, err))
			}
		}
	}
	matcher = language.NewMatcher(builder.Languages())
}

// Printer renders status text for one locale.
type Printer struct {
	p *message.Printer
}

// New returns a printer for the closest supported locale, English otherwise.
func New(locale string) *Printer {
	tag := language.English
	if parsed, err := language.Parse(locale); err == nil {
		_, idx, conf := matcher.Match(parsed)
		if conf != language.No {
			tag = builder.Languages()[idx]
		}
	}
	return &Printer{p: message.NewPrinter(tag, message.Catalog(builder))}
}

func (m *Printer) Queued() string     { return m.p.Sprintf(keyQueued) }
func (m *Printer) Processing() string { return m.p.Sprintf(keyProcessing) }
func (m *Printer) Unchanged() string  { return m.p.Sprintf(keyUnchanged) }

// Requeued reports a retry; attempt is 1-based.
func (m *Printer) Requeued(attempt, total int) string {
	return m.p.Sprintf(keyRequeued, attempt, total)
}

func (m *Printer) Completed(removed int, saved float64) string {
	return m.p.Sprintf(keyCompleted, removed, saved)
}

// Failure returns the categorised message for a terminal failure.
func (m *Printer) Failure(c retry.Category) string {
	switch c {
	case retry.CategoryMemory:
		return m.p.Sprintf(keyFailMemory)
	case retry.CategoryTimeout:
		return m.p.Sprintf(keyFailTimeout)
	case retry.CategoryExhausted:
		return m.p.Sprintf(keyFailRetries)
	case retry.CategoryInput:
		return m.p.Sprintf(keyFailInput)
	case retry.CategoryInternal:
		return m.p.Sprintf(keyFailBug)
	case retry.CategoryCancelled:
		return m.p.Sprintf(keyCancelled)
	default:
		return m.p.Sprintf(keyFailGeneric)
	}
}
