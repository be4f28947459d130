package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	utils "ChatBridge/pkg/utills"
)

const NoProviderReply = "Lo siento, no hay proveedores LLM disponibles en este momento."

// LocalReply builds a canned answer used when no provider is reachable, so
// the widget still receives a well-formed bot turn.
func LocalReply(chat []ChatMessage) string {
	var last string
	if len(chat) > 0 {
		last = strings.TrimSpace(chat[len(chat)-1].Text)
	}
	if last == "" {
		return NoProviderReply
	}
	b := &strings.Builder{}
	fmt.Fprintln(b, NoProviderReply)
	fmt.Fprintf(b, "\nHemos registrado tu mensaje: \"%s\".\n", utils.Truncate(last, 80))
	fmt.Fprintln(b, "Un miembro del equipo podrá revisarlo y responderte en esta conversación.")
	fmt.Fprintln(b, "\nMientras tanto puedes:")
	fmt.Fprintln(b, "- Añadir más detalles a tu consulta.")
	fmt.Fprintln(b, "- Intentarlo de nuevo en unos minutos.")
	return b.String()
}

// StreamLocal emits LocalReply in small pieces, paced like a real stream.
func StreamLocal(ctx context.Context, chat []ChatMessage, onDelta func(string)) string {
	full := LocalReply(chat)
	runes := []rune(full)
	const step = 24
	for i := 0; i < len(runes); i += step {
		if ctx.Err() != nil {
			break
		}
		end := min(i+step, len(runes))
		if onDelta != nil {
			onDelta(string(runes[i:end]))
		}
		sleepWithContext(ctx, 20*time.Millisecond)
	}
	return full
}
