package utils

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func badge(bg, fg string) lipgloss.Style {
	return lipgloss.NewStyle().
		Padding(0, 1, 0, 1).
		Bold(true).
		MaxWidth(80).
		Background(lipgloss.Color(bg)).
		Foreground(lipgloss.Color(fg))
}

var levelBadges = map[string]lipgloss.Style{
	"INFO": badge("87", "16"),
	"WARN": badge("214", "0"),
	"ERRO": badge("204", "0"),
	"DEBU": badge("63", "0"),
}

// ColorizeLogs styles the level tag of each plain log line for the
// dashboard's log viewport. Lines that already carry ANSI codes are
// left alone.
func ColorizeLogs(logs []string) []string {
	for i, line := range logs {
		if strings.Contains(line, "\x1b[") {
			continue
		}
		for level, style := range levelBadges {
			if strings.Contains(line, level) {
				logs[i] = strings.Replace(line, level, style.Render(level), 1)
				break
			}
		}
	}
	return logs
}
