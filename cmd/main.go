package main

import (
	"bytes"
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"

	"github.com/dsr1111/auction-akatsuki/configs"
	"github.com/dsr1111/auction-akatsuki/internal/auction"
	"github.com/dsr1111/auction-akatsuki/internal/database"
	"github.com/dsr1111/auction-akatsuki/internal/events"
	"github.com/dsr1111/auction-akatsuki/internal/handlers/rest"
	"github.com/dsr1111/auction-akatsuki/internal/handlers/websocket"
	"github.com/dsr1111/auction-akatsuki/pkg/utils"
)

var (
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
	svc *auction.Service
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Every(1*time.Minute, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Model for the ops dashboard: a table of items and a log viewport.
type model struct {
	table     table.Model
	viewport  viewport.Model
	logBuffer *bytes.Buffer
	logs      []string
	showTable bool
	quitting  bool
}

func (m model) Init() tea.Cmd {
	return tick()
}

func itemRows() []table.Row {
	items, now, err := svc.ListItems(context.Background())
	if err != nil {
		log.Error("Error listing items: ", err)
		return nil
	}

	rows := make([]table.Row, 0, len(items))
	for _, item := range items {
		lastBidder := "-"
		if item.LastBidderNickname != nil {
			lastBidder = *item.LastBidderNickname
		}

		timeLeft := "never closes"
		switch auction.Classify(item, now) {
		case auction.Ended:
			timeLeft = "ended"
		case auction.Open:
			timeLeft = auction.FormatTimeLeft(item, now)
		}

		rows = append(rows, table.Row{
			item.Name,
			strconv.Itoa(item.CurrentBid),
			lastBidder,
			timeLeft,
		})
	}
	return rows
}

func newTable() model {
	columns := []table.Column{
		{Title: "ITEM", Width: 28},
		{Title: "CURRENT BID", Width: 14},
		{Title: "LAST BIDDER", Width: 20},
		{Title: "TIME LEFT", Width: 16},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(itemRows()),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	vp := viewport.New(100, 15)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)
	return model{table: t, showTable: true, viewport: vp}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)
	switch msg := msg.(type) {
	case tickMsg:
		if m.showTable {
			m.table.SetRows(itemRows())
		} else {
			// refresh logs to get new logs
			m.logs = nil
			logs := strings.Split(m.logBuffer.String(), "\n")
			m.logs = append(m.logs, logs...)
		}
		return m, tick()

	case tea.KeyMsg:
		switch msg.String() {
		case "up":
			if !m.showTable {
				m.viewport.LineUp(1) // Scroll up one line in logs
			}
		case "down":
			if !m.showTable {
				m.viewport.LineDown(1) // Scroll down one line in logs
			}
		case "tab":
			m.showTable = !m.showTable
			if !m.showTable {
				// Load logs from buffer when switching to logs view
				m.logs = nil
				logs := strings.Split(m.logBuffer.String(), "\n")
				m.logs = append(m.logs, logs...)
			}
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	}

	if m.showTable {
		m.table, cmd = m.table.Update(msg)
		cmds = append(cmds, cmd)
		return m, tea.Batch(cmds...)
	}
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// Render the view based on the current state of the model
func (m model) View() string {
	if m.quitting {
		return "Bye!\n"
	}
	if m.showTable {
		return baseStyle.Render(m.table.View()) + "\n" + helpStyle.Render("• tab: switch modes • q: exit\n")
	}

	styledLogs := make([]string, len(m.logs))
	copy(styledLogs, m.logs)
	styledLogs = utils.ColorizeLogs(styledLogs)

	// only show last 15 lines of logs
	if len(styledLogs) > 15 {
		styledLogs = styledLogs[len(styledLogs)-15:]
	}

	m.viewport.SetContent(strings.Join(styledLogs, "\n"))
	return m.viewport.View() + "\n" + helpStyle.Render("• tab: switch modes • q: exit\n")
}

func newBus(cfg *configs.Config) (events.Bus, error) {
	if cfg.Events.Backend == "amqp" {
		return events.NewAMQPBus(cfg.Events.AMQPURL, cfg.Events.AMQPExchange)
	}
	return events.NewMemoryBus(), nil
}

func main() {
	// Load configurations
	cfg, err := configs.LoadConfig()
	if err != nil {
		log.Fatal("Error loading config: ", err)
	}

	port := cfg.Server.Port
	if port == "" {
		port = "8080" // Default port if not specified
	}

	// Setup logger
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "debug" // Default log level if not specified
	}
	logLevel, err := log.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		log.Error("Invalid log level: ", err)
	}
	log.SetLevel(logLevel)

	// Redirect logs to buffer for the dashboard's log view
	logBuffer := new(bytes.Buffer)
	log.SetOutput(logBuffer)

	// Initialize database service
	db := database.New(cfg)
	defer db.Close()

	// Initialize event bus
	bus, err := newBus(cfg)
	if err != nil {
		log.Fatal("Error connecting event bus: ", err)
	}
	defer bus.Close()

	svc = auction.NewService(db, bus)

	// Initialize WebSocket handler and the update coordinator feeding it
	auctionHandler := websocket.NewAuctionWebSocketHandler(svc, cfg.WebSocket.RateLimit, cfg.WebSocket.RateBurst, cfg.WebSocket.MaxMessageSize)
	coordinator := events.NewCoordinator(svc,
		events.WithDedupWindow(cfg.Events.DedupWindow),
		events.WithOnChange(auctionHandler.OnViewChange),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go auctionHandler.RunCoordinator(ctx, bus, coordinator)

	// Setup routes
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/auction", auctionHandler.HandleAuctionWebSocket)
	rest.NewHandler(svc, db).Register(mux)

	// Start server in a goroutine
	log.Infof("Server started on port %s", port)
	go func() {
		if err := http.ListenAndServe(":"+port, mux); err != nil {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	// Start Bubble Tea program
	m := newTable()
	m.logBuffer = logBuffer
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running Bubble Tea program: %v", err)
	}
}
