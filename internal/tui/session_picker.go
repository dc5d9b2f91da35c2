package tui

import (
	"io"
	"time"

	"charm.land/bubbles/v2/list"
	tea "charm.land/bubbletea/v2"

	"chamber/internal/types"
)

type sessionItem struct {
	id      string
	title   string
	updated time.Time
}

func (s sessionItem) Title() string {
	if s.title != "" {
		return s.title
	}
	return s.id
}

func (s sessionItem) Description() string {
	return relativeTime(s.updated, time.Now())
}

func (s sessionItem) FilterValue() string {
	return s.title
}

type sessionDelegate struct{}

func (d sessionDelegate) Height() int  { return 1 }
func (d sessionDelegate) Spacing() int { return 0 }
func (d sessionDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd {
	return nil
}

func (d sessionDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	entry, ok := item.(sessionItem)
	if !ok {
		return
	}
	label := entry.Title()
	if when := entry.Description(); when != "" {
		label += "  " + when
	}
	label = truncateToWidth(label, m.Width())
	style := sessionStyle
	if index == m.Index() {
		style = selectedStyle
	}
	io.WriteString(w, style.Render(label))
}

// SessionPicker is the modal session switcher.
type SessionPicker struct {
	list list.Model
}

func NewSessionPicker(width, height int) *SessionPicker {
	items := []list.Item{}
	delegate := sessionDelegate{}
	mlist := list.New(items, delegate, width, height)
	mlist.Title = "Sessions"
	mlist.SetShowHelp(false)
	mlist.SetFilteringEnabled(false)
	mlist.SetShowPagination(false)
	mlist.SetShowStatusBar(false)
	mlist.Styles.Title = headerStyle
	return &SessionPicker{list: mlist}
}

func (p *SessionPicker) SetSize(width, height int) {
	p.list.SetSize(width, height)
}

// Enter repopulates the picker and moves the cursor to the selected session.
func (p *SessionPicker) Enter(sessions []types.Session, selected string) {
	items := make([]list.Item, 0, len(sessions))
	for _, session := range sessions {
		items = append(items, sessionItem{id: session.ID, title: session.Title, updated: session.UpdatedAt})
	}
	p.list.SetItems(items)
	if selected != "" {
		for i, item := range p.list.Items() {
			entry, ok := item.(sessionItem)
			if !ok {
				continue
			}
			if entry.id == selected {
				p.list.Select(i)
				return
			}
		}
	}
	p.list.Select(0)
}

func (p *SessionPicker) View() string {
	return p.list.View()
}

func (p *SessionPicker) Move(delta int) {
	if delta < 0 {
		p.list.CursorUp()
	} else if delta > 0 {
		p.list.CursorDown()
	}
}

func (p *SessionPicker) Selected() string {
	item := p.list.SelectedItem()
	entry, ok := item.(sessionItem)
	if !ok {
		return ""
	}
	return entry.id
}
