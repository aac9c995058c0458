// Package tui is the terminal client: a chat list, a message view with a
// composer, and search pages, all talking to the daemon over its socket.
package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matfraga/papo/internal/tui/client"
	"github.com/matfraga/papo/internal/tui/keys"
	"github.com/matfraga/papo/internal/tui/model"
	"github.com/matfraga/papo/internal/tui/views"
)

// App is the main TUI application shell.
type App struct {
	app        *tview.Application
	pages      *tview.Pages
	vm         *model.ViewModel
	registry   *keys.Registry
	statusBar  *views.StatusBar
	chatList   *views.ChatList
	msgView    *views.MessageView
	composer   *views.Composer
	searchV    *views.SearchView
	userSearch *views.UserSearchView
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *client.Client, profileName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	vm := model.NewViewModel(c)

	a := &App{
		app:        tview.NewApplication(),
		pages:      tview.NewPages(),
		vm:         vm,
		registry:   keys.NewRegistry(),
		statusBar:  views.NewStatusBar(),
		chatList:   views.NewChatList(),
		msgView:    views.NewMessageView(),
		composer:   views.NewComposer(),
		searchV:    views.NewSearchView(),
		userSearch: views.NewUserSearchView(),
		ctx:        ctx,
		cancel:     cancel,
	}

	a.statusBar.SetProfile(profileName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.Stop() },
	})
	a.registry.AddGlobal("search", &keys.Action{
		Rune: 's', Key: tcell.KeyRune,
		Description: "s:search", Visible: true,
		Handler: func() { a.showPage("search", a.searchV.Input()) },
	})
	a.registry.AddGlobal("find", &keys.Action{
		Rune: 'f', Key: tcell.KeyRune,
		Description: "f:find user", Visible: true,
		Handler: func() { a.showPage("users", a.userSearch.Input()) },
	})
}

func (a *App) setupCallbacks() {
	a.chatList.SetSelectedFunc(func(row, col int) {
		if chatID := a.chatList.SelectedChat(); chatID != "" {
			a.openChat(chatID)
		}
	})

	a.composer.SetOnSend(func(text string) {
		chatID := a.vm.GetActiveChatID()
		if chatID == "" {
			return
		}
		go func() {
			if err := a.vm.SendText(a.ctx, chatID, text); err != nil {
				a.vm.Flash.Set("Send failed: "+err.Error(), 5*time.Second)
			}
			_ = a.vm.ReloadMessages(a.ctx)
			a.app.QueueUpdateDraw(func() {
				// Your own send always lands in view.
				a.msgView.Update(a.vm.GetMessages(), true)
				a.statusBar.SetFlash(a.vm.Flash.Get())
			})
		}()
	})

	a.searchV.SetOnQuery(func(query string) {
		go func() {
			results, err := a.vm.SearchMessages(a.ctx, query)
			if err != nil {
				a.vm.Flash.Set("Search failed: "+err.Error(), 5*time.Second)
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.searchV.Update(results)
				a.app.SetFocus(a.searchV.Results())
			})
		}()
	})

	a.searchV.Results().SetSelectedFunc(func(row, col int) {
		if chatID, _ := a.searchV.SelectedResult(); chatID != "" {
			a.openChat(chatID)
		}
	})

	a.userSearch.SetOnQuery(func(query string) {
		go func() {
			users, err := a.vm.SearchUsers(a.ctx, query)
			if err != nil {
				a.vm.Flash.Set("User search failed: "+err.Error(), 5*time.Second)
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.userSearch.Update(users)
				a.app.SetFocus(a.userSearch.Results())
			})
		}()
	})

	a.userSearch.Results().SetSelectedFunc(func(row, col int) {
		u, ok := a.userSearch.SelectedUser()
		if !ok {
			return
		}
		go func() {
			chat, err := a.vm.PromoteUser(a.ctx, u)
			if err != nil {
				a.vm.Flash.Set("Start chat failed: "+err.Error(), 5*time.Second)
				return
			}
			a.openChat(chat.ChatID)
		}()
	})
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("chats", a.chatList, true, true)
	a.pages.AddPage("chat", chatFlex, true, false)
	a.pages.AddPage("search", a.searchV, true, false)
	a.pages.AddPage("users", a.userSearch, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape {
			switch currentPage {
			case "chat":
				a.vm.CloseActiveChat(a.ctx)
				a.pages.SwitchToPage("chats")
				a.app.SetFocus(a.chatList)
				return nil
			case "search", "users":
				a.pages.SwitchToPage("chats")
				a.app.SetFocus(a.chatList)
				return nil
			}
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		// 'i' focuses the composer (only when not already in an input
		// field).
		if currentPage == "chat" && event.Key() == tcell.KeyRune && event.Rune() == 'i' {
			a.app.SetFocus(a.composer.InputField)
			return nil
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}

		return event
	})
}

func (a *App) openChat(chatID string) {
	go func() {
		if err := a.vm.OpenChat(a.ctx, chatID); err != nil {
			a.vm.Flash.Set("Open failed: "+err.Error(), 5*time.Second)
			return
		}
		chatName := chatID
		for _, c := range a.vm.GetChats() {
			if c.ChatID == chatID {
				if c.DisplayName != "" {
					chatName = c.DisplayName
				}
				break
			}
		}
		a.app.QueueUpdateDraw(func() {
			a.msgView.SetChatName(chatName)
			// A fresh open starts at the newest message.
			a.msgView.Update(a.vm.GetMessages(), true)
			a.pages.SwitchToPage("chat")
			a.app.SetFocus(a.composer.InputField)
		})
	}()
}

func (a *App) showPage(name string, focus tview.Primitive) {
	a.pages.SwitchToPage(name)
	a.app.SetFocus(focus)
}

// Run starts the TUI application.
func (a *App) Run() error {
	go func() {
		_ = a.vm.LoadStatus(a.ctx)
		_ = a.vm.LoadChats(a.ctx)
		_ = a.vm.WatchEvents(a.ctx)

		a.app.QueueUpdateDraw(func() {
			a.chatList.Update(a.vm.GetChats())
			if st := a.vm.GetStatus(); st != nil {
				a.statusBar.SetState(st.State)
				if st.Warning != "" {
					a.vm.Flash.Set(st.Warning, 10*time.Second)
					a.statusBar.SetFlash(a.vm.Flash.Get())
				}
			}
		})

		a.startRefreshLoop()
	}()

	return a.app.Run()
}

// startRefreshLoop redraws when the view model signals changes and polls
// as a fallback.
func (a *App) startRefreshLoop() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-a.vm.RefreshCh():
				a.redraw()
			case <-ticker.C:
				_ = a.vm.LoadChats(a.ctx)
				_ = a.vm.LoadStatus(a.ctx)
				a.redraw()
			case <-a.ctx.Done():
				return
			}
		}
	}()
}

func (a *App) redraw() {
	a.app.QueueUpdateDraw(func() {
		currentPage, _ := a.pages.GetFrontPage()
		switch currentPage {
		case "chats":
			a.chatList.Update(a.vm.GetChats())
		case "chat":
			chatID := a.vm.GetActiveChatID()
			a.msgView.Update(a.vm.GetMessages(), a.vm.ShouldFollow(chatID))
		}
		if st := a.vm.GetStatus(); st != nil {
			a.statusBar.SetState(st.State)
		}
		a.statusBar.SetFlash(a.vm.Flash.Get())
	})
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.vm.CloseActiveChat(context.Background())
	a.cancel()
	a.app.Stop()
}
