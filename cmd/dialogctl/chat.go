// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package main contains the dialogctl interactive chat loop.
//
// The loop reads utterances, posts them as turns, and renders the
// engine's reply by response type: slot prompts, disambiguation menus,
// validation complaints, and completed task results all look different
// on the terminal. Input uses bubbletea when stdin is a TTY (history
// navigation, line editing) and plain buffered reads otherwise, so
// piped input keeps working in scripts and tests.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianDialog/pkg/logging"
	"github.com/AleutianAI/AleutianDialog/services/dialog/datatypes"
)

// Aleutian terminal palette.
var (
	styleAssistant = lipgloss.NewStyle().Foreground(lipgloss.Color("#2CD7C7"))
	stylePrompt    = lipgloss.NewStyle().Foreground(lipgloss.Color("#20B9B4")).Bold(true)
	styleMuted     = lipgloss.NewStyle().Foreground(lipgloss.Color("#2C4A54"))
	styleWarning   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F4D03F"))
	styleError     = lipgloss.NewStyle().Foreground(lipgloss.Color("#E74C3C"))
)

func runChatCommand(cmd *cobra.Command, args []string) {
	resumeID, _ := cmd.Flags().GetString("resume")

	loop := &chatLoop{
		client:    newServiceClient(),
		userID:    resolveUserID(),
		sessionID: resumeID,
		reader:    NewInteractiveInputReader(50),
		logger:    logging.Default(),
	}

	// Set up graceful shutdown with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Chat error: %v", err)
	}
}

func runAskCommand(cmd *cobra.Command, args []string) {
	utterance := strings.Join(args, " ")
	sessionID, _ := cmd.Flags().GetString("session")

	client := newServiceClient()
	resp, err := client.Chat(context.Background(), datatypes.ChatRequest{
		UserID:    resolveUserID(),
		Input:     utterance,
		SessionID: sessionID,
	})
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	if resp.Data == nil {
		log.Fatalf("Error: the service answered without a payload")
	}

	if jsonOutput {
		if err := OutputJSON(resp.Data, false); err != nil {
			log.Fatalf("Failed to encode JSON: %v", err)
		}
		return
	}
	renderTurn(os.Stdout, resp.Data)
	fmt.Println(styleMuted.Render("session: " + resp.Data.SessionID))
}

// =============================================================================
// Chat Loop
// =============================================================================

// chatLoop drives one interactive conversation until the user exits.
type chatLoop struct {
	client    *serviceClient
	userID    string
	sessionID string
	reader    InputReader
	logger    *logging.Logger
}

// Run executes the chat loop until "exit", EOF, or cancellation.
func (l *chatLoop) Run(ctx context.Context) error {
	fmt.Println(stylePrompt.Render("AleutianDialog chat"))
	if l.sessionID != "" {
		fmt.Println(styleMuted.Render("resuming session " + l.sessionID))
	}
	fmt.Println(styleMuted.Render(`type "exit" to leave`))
	fmt.Println()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if p, ok := l.reader.(PromptingInputReader); ok {
			p.SetPrompt("you> ")
		} else {
			fmt.Print("you> ")
		}
		line, err := l.reader.ReadLine()
		if err == io.EOF {
			fmt.Println(styleMuted.Render("\nbye"))
			return nil
		}
		if err != nil {
			return err
		}
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			fmt.Println(styleMuted.Render("bye"))
			return nil
		}

		resp, err := l.client.Chat(ctx, datatypes.ChatRequest{
			UserID:    l.userID,
			Input:     line,
			SessionID: l.sessionID,
		})
		if err != nil {
			fmt.Println(styleError.Render("error: " + err.Error()))
			l.logger.Error("chat turn failed", "error", err)
			continue
		}
		if resp.Data == nil {
			fmt.Println(styleError.Render("error: empty reply from the service"))
			continue
		}
		l.sessionID = resp.Data.SessionID
		renderTurn(os.Stdout, resp.Data)
	}
}

// renderTurn prints one reply in a shape that matches what the engine
// is doing: asking, disambiguating, complaining, or finishing.
func renderTurn(w io.Writer, data *datatypes.ChatData) {
	fmt.Fprintln(w, styleAssistant.Render("bot> "+data.Response))

	switch data.Status {
	case datatypes.StatusAmbiguous:
		for i, cand := range data.AmbiguousIntents {
			label := cand.DisplayName
			if cand.Description != "" {
				label += styleMuted.Render("  " + cand.Description)
			}
			fmt.Fprintf(w, "     %d. %s\n", i+1, label)
		}
	case datatypes.StatusValidationError:
		for _, slot := range sortedKeys(data.ValidationErrors) {
			fmt.Fprintln(w, "     "+styleWarning.Render(slot+": "+data.ValidationErrors[slot]))
		}
	case datatypes.StatusAPIError:
		fmt.Fprintln(w, "     "+styleError.Render("the downstream task failed; try again"))
	case datatypes.StatusCompleted:
		for _, key := range sortedKeys(data.APIResult) {
			fmt.Fprintf(w, "     %s: %v\n", key, data.APIResult[key])
		}
	}

	if len(data.Suggestions) > 0 {
		fmt.Fprintln(w, styleMuted.Render("     suggestions: "+strings.Join(data.Suggestions, " / ")))
	}
	fmt.Fprintln(w)
}

// sortedKeys gives deterministic rendering order for map payloads.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// Input Readers
// =============================================================================

// InputReader reads one line of user input per call.
type InputReader interface {
	// ReadLine blocks until a line is available or input is closed.
	ReadLine() (string, error)
}

// PromptingInputReader is implemented by readers that draw their own
// prompt; the chat loop checks for it to avoid double-prompting.
type PromptingInputReader interface {
	InputReader
	// SetPrompt sets the prompt string to display before input.
	SetPrompt(prompt string)
}

// StdinReader reads lines from stdin with no editing support. It is
// the fallback for piped input and CI.
type StdinReader struct {
	reader *bufio.Reader
}

// NewStdinReader creates a new StdinReader wrapping os.Stdin.
func NewStdinReader() *StdinReader {
	return &StdinReader{reader: bufio.NewReader(os.Stdin)}
}

// ReadLine reads until newline and returns the trimmed result. Returns
// io.EOF when stdin closes.
func (r *StdinReader) ReadLine() (string, error) {
	line, err := r.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// InteractiveInputReader provides history navigation and line editing
// on a TTY via bubbletea. History is in-memory only.
type InteractiveInputReader struct {
	history    []string
	maxHistory int
	prompt     string
}

// NewInteractiveInputReader returns an interactive reader on a TTY and
// a StdinReader everywhere else.
func NewInteractiveInputReader(maxHistory int) InputReader {
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return NewStdinReader()
	}
	return &InteractiveInputReader{
		history:    make([]string, 0, maxHistory),
		maxHistory: maxHistory,
		prompt:     "> ",
	}
}

// SetPrompt sets the prompt string to display before input.
func (r *InteractiveInputReader) SetPrompt(prompt string) {
	r.prompt = prompt
}

// ReadLine reads one line with up/down history navigation. Ctrl+D
// ends input with io.EOF; Ctrl+C discards the current line.
func (r *InteractiveInputReader) ReadLine() (string, error) {
	ti := textinput.New()
	ti.Prompt = r.prompt
	ti.Focus()
	ti.CharLimit = 4096
	ti.Width = 80

	m := inputModel{
		textInput:    ti,
		history:      r.history,
		historyIndex: -1,
	}

	p := tea.NewProgram(m, tea.WithOutput(os.Stderr))
	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	result, ok := finalModel.(inputModel)
	if !ok {
		return "", fmt.Errorf("unexpected model type from bubbletea: %T", finalModel)
	}

	if result.cancelled && result.textInput.Value() == "" {
		return "", io.EOF
	}

	input := strings.TrimSpace(result.textInput.Value())
	if input != "" {
		r.addToHistory(input)
	}
	return input, nil
}

// addToHistory appends input, skipping immediate duplicates and
// trimming to the configured size.
func (r *InteractiveInputReader) addToHistory(input string) {
	if len(r.history) > 0 && r.history[len(r.history)-1] == input {
		return
	}
	r.history = append(r.history, input)
	if len(r.history) > r.maxHistory {
		r.history = r.history[1:]
	}
}

// inputModel is the bubbletea model for interactive input.
type inputModel struct {
	textInput    textinput.Model
	history      []string
	historyIndex int
	currentInput string // Stores current input when navigating history
	done         bool
	cancelled    bool
}

// Init initializes the bubbletea model.
func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles input events for the bubbletea model.
func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlC:
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyCtrlD:
			m.cancelled = true
			m.textInput.SetValue("")
			m.done = true
			return m, tea.Quit

		case tea.KeyUp:
			if len(m.history) == 0 {
				return m, nil
			}
			if m.historyIndex == -1 {
				m.currentInput = m.textInput.Value()
				m.historyIndex = len(m.history) - 1
			} else if m.historyIndex > 0 {
				m.historyIndex--
			}
			m.textInput.SetValue(m.history[m.historyIndex])
			m.textInput.CursorEnd()
			return m, nil

		case tea.KeyDown:
			if m.historyIndex == -1 {
				return m, nil
			}
			if m.historyIndex < len(m.history)-1 {
				m.historyIndex++
				m.textInput.SetValue(m.history[m.historyIndex])
			} else {
				m.historyIndex = -1
				m.textInput.SetValue(m.currentInput)
			}
			m.textInput.CursorEnd()
			return m, nil
		}
	}

	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

// View renders the input prompt.
func (m inputModel) View() string {
	if m.done {
		return ""
	}
	return m.textInput.View()
}
