package hass

import (
	"fmt"
	"strings"
)

type labels struct {
	overview    string
	active      string
	total       string
	noDevices   string
	unavailable string
	activeCount string
	domains     map[string]string
}

var summaryLabels = map[string]labels{
	"en": {
		overview:    "Device overview:",
		active:      "Currently active:",
		total:       "Total: %d entities",
		noDevices:   "No devices are currently available in this home.",
		unavailable: "Device information is currently unavailable.",
		activeCount: "%d on",
		domains: map[string]string{
			"light":         "Lights",
			"switch":        "Switches",
			"sensor":        "Sensors",
			"binary_sensor": "Binary sensors",
			"climate":       "Climate devices",
			"cover":         "Covers/blinds",
			"media_player":  "Media players",
			"camera":        "Cameras",
			"scene":         "Scenes",
			"automation":    "Automations",
			"script":        "Scripts",
			"person":        "Persons",
			"zone":          "Zones",
		},
	},
	"de": {
		overview:    "Geräte-Übersicht:",
		active:      "Aktuell aktiv:",
		total:       "Gesamt: %d Entitäten",
		noDevices:   "In diesem Zuhause sind derzeit keine Geräte verfügbar.",
		unavailable: "Geräteinformationen sind derzeit nicht verfügbar.",
		activeCount: "davon %d an",
		domains: map[string]string{
			"light":         "Lichter",
			"switch":        "Schalter",
			"sensor":        "Sensoren",
			"binary_sensor": "Binärsensoren",
			"climate":       "Klimageräte",
			"cover":         "Cover/Jalousien",
			"media_player":  "Mediaplayer",
			"camera":        "Kameras",
			"scene":         "Szenen",
			"automation":    "Automatisierungen",
			"script":        "Skripte",
			"person":        "Personen",
			"zone":          "Zonen",
		},
	},
}

// Summary renders the snapshot as the context text handed to the model.
// lang is an ISO 639 base language; unsupported languages render in English.
// The result is never empty.
func (s Snapshot) Summary(lang string) string {
	l, ok := summaryLabels[lang]
	if !ok {
		l = summaryLabels["en"]
	}

	if !s.Readable {
		return l.unavailable
	}
	if s.Total == 0 {
		return l.noDevices
	}

	var b strings.Builder
	b.WriteString(l.overview)
	for _, dc := range s.Domains {
		name, ok := l.domains[dc.Domain]
		if !ok {
			name = dc.Domain
		}
		fmt.Fprintf(&b, "\n- %s: %d", name, dc.Total)
		if dc.Active > 0 {
			fmt.Fprintf(&b, " (%s)", fmt.Sprintf(l.activeCount, dc.Active))
		}
	}

	if len(s.Notable) > 0 {
		b.WriteString("\n\n")
		b.WriteString(l.active)
		for _, e := range s.Notable {
			fmt.Fprintf(&b, "\n- %s (%s): %s", e.FriendlyName, e.EntityID, e.State)
		}
	}

	b.WriteString("\n\n")
	fmt.Fprintf(&b, l.total, s.Total)
	return b.String()
}
