package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matfraga/papo/internal/api"
)

// UserSearchView finds users on the server and starts new chats with
// them.
type UserSearchView struct {
	*tview.Flex
	input   *tview.InputField
	results *tview.Table
	onQuery func(query string)
	data    []api.UserResponse
}

// NewUserSearchView creates a new user search view.
func NewUserSearchView() *UserSearchView {
	input := tview.NewInputField().
		SetLabel(" Find user: ").
		SetFieldWidth(0)

	results := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	results.SetBorder(true).SetTitle(" Users ")

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(input, 1, 0, true).
		AddItem(results, 0, 1, false)

	return &UserSearchView{
		Flex:    flex,
		input:   input,
		results: results,
	}
}

// SetOnQuery sets the callback when a query is submitted.
func (uv *UserSearchView) SetOnQuery(fn func(query string)) {
	uv.onQuery = fn
	uv.input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && uv.onQuery != nil {
			uv.onQuery(uv.input.GetText())
		}
	})
}

// Update refreshes the user results.
func (uv *UserSearchView) Update(users []api.UserResponse) {
	uv.data = users
	uv.results.Clear()

	uv.results.SetCell(0, 0, tview.NewTableCell(" ID").
		SetSelectable(false).
		SetTextColor(tview.Styles.SecondaryTextColor).
		SetAttributes(tcell.AttrBold))
	uv.results.SetCell(0, 1, tview.NewTableCell(" Name").
		SetSelectable(false).
		SetTextColor(tview.Styles.SecondaryTextColor).
		SetAttributes(tcell.AttrBold))

	for i, u := range users {
		row := i + 1
		uv.results.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(u.ID)).SetMaxWidth(20))
		uv.results.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(u.Name)).SetExpansion(1))
	}
}

// SelectedUser returns the selected user, if any.
func (uv *UserSearchView) SelectedUser() (api.UserResponse, bool) {
	row, _ := uv.results.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(uv.data) {
		return uv.data[idx], true
	}
	return api.UserResponse{}, false
}

// Input returns the search input field.
func (uv *UserSearchView) Input() *tview.InputField {
	return uv.input
}

// Results returns the results table.
func (uv *UserSearchView) Results() *tview.Table {
	return uv.results
}
