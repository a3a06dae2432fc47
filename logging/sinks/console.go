package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"netball/server/logging"
)

// Console writes one human-readable line per event.
type Console struct {
	logger *log.Logger
}

func NewConsole(w io.Writer) *Console {
	return &Console{logger: log.New(w, "", log.LstdFlags|log.Lmicroseconds)}
}

func (s *Console) Write(event logging.Event) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s frame=%d actor=%s", event.Severity, event.Type, event.Frame, entity(event.Actor))
	if len(event.Targets) > 0 {
		names := make([]string, len(event.Targets))
		for i, target := range event.Targets {
			names[i] = entity(target)
		}
		fmt.Fprintf(&b, " targets=%s", strings.Join(names, ","))
	}
	if event.Payload != nil {
		if data, err := json.Marshal(event.Payload); err == nil {
			fmt.Fprintf(&b, " payload=%s", data)
		} else {
			fmt.Fprintf(&b, " payload=%v", event.Payload)
		}
	}
	if len(event.Extra) > 0 {
		keys := make([]string, 0, len(event.Extra))
		for k := range event.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, event.Extra[k])
		}
	}
	s.logger.Print(b.String())
	return nil
}

func (s *Console) Close(context.Context) error {
	return nil
}

func entity(ref logging.EntityRef) string {
	switch {
	case ref.ID == "" && ref.Kind == "":
		return "-"
	case ref.ID == "":
		return string(ref.Kind)
	case ref.Kind == "":
		return ref.ID
	default:
		return string(ref.Kind) + ":" + ref.ID
	}
}
