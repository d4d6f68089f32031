package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/and161185/delta-auth/internal/model"
	"github.com/and161185/delta-auth/internal/session"
)

// sessionView is the printable part of a session; tokens are never shown.
type sessionView struct {
	User      *model.User `json:"user"`
	ExpiresAt *time.Time  `json:"expiresAt,omitempty"`
	Persisted bool        `json:"persisted"`
}

func printSession(w io.Writer, format string, snap session.Snapshot) error {
	v := sessionView{User: snap.User, Persisted: snap.Persisted}
	if !snap.ExpiresAt.IsZero() {
		t := snap.ExpiresAt
		v.ExpiresAt = &t
	}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// round-trip through JSON so YAML keys match the API field names
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(m); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		u := snap.User
		fmt.Fprintf(w, "%s\n", displayName(u))
		fmt.Fprintf(w, "  id:       %s\n", u.ID)
		if u.Username != "" {
			fmt.Fprintf(w, "  username: %s\n", u.Username)
		}
		fmt.Fprintf(w, "  role:     %s\n", u.Role)
		fmt.Fprintf(w, "  verified: %t\n", u.IsEmailVerified)
		if v.ExpiresAt != nil {
			fmt.Fprintf(w, "  expires:  %s\n", v.ExpiresAt.Local().Format(time.RFC3339))
		}
		return nil
	}
	return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
}
