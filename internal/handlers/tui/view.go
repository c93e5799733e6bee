package tui

import (
	"errors"
	"fmt"
	"strings"

	"skillhub/internal/core/domain"
	"skillhub/internal/core/services"
	apperrors "skillhub/pkg/errors"
	"skillhub/pkg/utils"
)

const (
	headerHeight = 3
	footerHeight = maxToasts + 3
)

func (m Model) View() string {
	if !m.ready {
		return "Loading chat..."
	}

	var b strings.Builder
	b.WriteString(renderHeader(m.snap))
	b.WriteString("\n")
	b.WriteString(renderCallBar(m.snap.Call))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", max(m.width, 1)))
	b.WriteString("\n")
	if m.snap.Call.Fullscreen {
		// The call takes the transcript's and the input's rows.
		b.WriteString(renderCallPanel(m.snap, m.viewport.Height+1))
	} else {
		b.WriteString(m.viewport.View())
	}
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", max(m.width, 1)))
	b.WriteString("\n")

	for i := 0; i < maxToasts; i++ {
		if i < len(m.toasts) {
			b.WriteString(renderToast(m.toasts[i].note))
		}
		b.WriteString("\n")
	}

	if !m.snap.Call.Fullscreen {
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}
	b.WriteString(m.helpLine())
	return b.String()
}

// renderCallPanel fills height rows with the call's media status.
func renderCallPanel(snap services.Snapshot, height int) string {
	lines := []string{""}
	switch snap.Call.Phase {
	case domain.CallIdle:
		lines = append(lines, "  No call in progress")
	case domain.CallActive:
		remote := "waiting for " + snap.Peer.DisplayName() + "'s media"
		if snap.Call.HasRemoteMedia {
			remote = snap.Peer.DisplayName() + "'s media is playing"
		}
		lines = append(lines,
			"  "+remote,
			"  In call for "+utils.FormatCallDuration(snap.Call.ElapsedSeconds),
		)
	default:
		lines = append(lines, "  "+renderCallBar(snap.Call))
	}
	if snap.Call.HasLocalMedia {
		lines = append(lines, "  You: video "+onOff(snap.Call.VideoEnabled)+", audio "+onOff(snap.Call.AudioEnabled))
	}

	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines[:max(height, 1)], "\n")
}

func renderHeader(snap services.Snapshot) string {
	status := "offline"
	if snap.Connected {
		status = "online"
	}
	title := fmt.Sprintf("Chat with %s (%s)", snap.Peer.DisplayName(), status)
	if snap.Call.Phase == domain.CallActive {
		title += "  [in call " + utils.FormatCallDuration(snap.Call.ElapsedSeconds) + "]"
	}
	return title
}

// renderCallBar is the one-line call overlay shown for every non-idle phase.
func renderCallBar(call domain.CallState) string {
	switch call.Phase {
	case domain.CallOutgoingPending:
		return "Calling... (f3 to cancel)"
	case domain.CallIncomingPending:
		name := utils.FirstNonEmpty(call.CallerName, "Someone")
		return fmt.Sprintf("Incoming video call from %s (f2 accept, f3 decline)", name)
	case domain.CallActive:
		parts := []string{
			"Call " + utils.FormatCallDuration(call.ElapsedSeconds),
			"video " + onOff(call.VideoEnabled),
			"audio " + onOff(call.AudioEnabled),
		}
		if !call.HasRemoteMedia {
			parts = append(parts, "waiting for peer media")
		}
		if call.Fullscreen {
			parts = append(parts, "fullscreen")
		}
		return strings.Join(parts, " | ")
	}
	return ""
}

func renderTranscript(snap services.Snapshot, width int) string {
	if snap.Loading {
		return "Loading messages..."
	}

	var b strings.Builder
	for i, msg := range snap.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(renderMessage(msg, snap.Self.ID, width))
	}
	return b.String()
}

func renderMessage(msg domain.Message, self domain.UserID, width int) string {
	if msg.IsSystem {
		return "  * " + msg.Text + " *"
	}
	name := utils.SanitizeString(msg.SenderName)
	if msg.Sender == self {
		name = "You"
	}
	line := fmt.Sprintf("[%s] %s: %s", utils.FormatClock(msg.Timestamp), name, utils.SanitizeString(msg.Text))
	if width > 0 {
		return wrap(line, width)
	}
	return line
}

func renderToast(note domain.Notification) string {
	switch note.Level {
	case domain.NotifyError:
		return "! " + note.Text
	case domain.NotifySuccess:
		return "+ " + note.Text
	default:
		return "> " + note.Text
	}
}

func (m Model) helpLine() string {
	var bindings []string
	if !m.snap.Call.Fullscreen {
		bindings = append(bindings, m.keys.Send.Help().Key+" "+m.keys.Send.Help().Desc)
	}
	switch m.snap.Call.Phase {
	case domain.CallIdle:
		bindings = append(bindings, "f2 call")
	case domain.CallIncomingPending:
		bindings = append(bindings, "f2 accept", "f3 decline")
	case domain.CallOutgoingPending:
		bindings = append(bindings, "f3 cancel")
	case domain.CallActive:
		bindings = append(bindings, m.keys.Hangup.Help().Key+" end")
	}
	if m.snap.Call.HasLocalMedia {
		bindings = append(bindings,
			m.keys.Video.Help().Key+" "+m.keys.Video.Help().Desc,
			m.keys.Audio.Help().Key+" "+m.keys.Audio.Help().Desc,
		)
	}
	if m.snap.Call.Phase == domain.CallActive || m.snap.Call.Fullscreen {
		bindings = append(bindings, m.keys.Fullscreen.Help().Key+" "+m.keys.Fullscreen.Help().Desc)
	}
	bindings = append(bindings, m.keys.Quit.Help().Key+" "+m.keys.Quit.Help().Desc)
	return strings.Join(bindings, "  ")
}

// userFacing drops errors the session has already reported as notifications.
func userFacing(err error) error {
	switch {
	case err == nil,
		errors.Is(err, domain.ErrEmptyMessage),
		errors.Is(err, domain.ErrSessionClosed),
		apperrors.IsCode(err, apperrors.ErrCodeConnectivity),
		apperrors.IsCode(err, apperrors.ErrCodeMediaAcquisition),
		apperrors.IsCode(err, apperrors.ErrCodeSignaling):
		return nil
	case errors.Is(err, domain.ErrChannelClosed):
		return errors.New("Not connected to chat server")
	case errors.Is(err, domain.ErrRateLimited):
		return errors.New("Slow down, too many messages")
	}
	return err
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// wrap breaks s into lines of at most width runes, on spaces where possible.
func wrap(s string, width int) string {
	var out []string
	for _, para := range strings.Split(s, "\n") {
		line := ""
		for _, word := range strings.Fields(para) {
			for len([]rune(word)) > width {
				if line != "" {
					out = append(out, line)
					line = ""
				}
				r := []rune(word)
				out = append(out, string(r[:width]))
				word = string(r[width:])
			}
			switch {
			case line == "":
				line = word
			case len([]rune(line))+1+len([]rune(word)) <= width:
				line += " " + word
			default:
				out = append(out, line)
				line = word
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
