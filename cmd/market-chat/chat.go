package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/market-chat/chatwire"
	"github.com/gosuda/market-chat/order"
	"github.com/gosuda/market-chat/ordersync"
	"github.com/gosuda/market-chat/session"
	"github.com/gosuda/market-chat/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join a listing's chat room as buyer or seller",
	RunE:  runChat,
}

var (
	flagServerURL string
	flagRoom      string
	flagListing   int64
	flagUser      int64
	flagName      string
	flagBuyer     int64
	flagRole      string
	flagAmount    int64
	flagDataPath  string
	flagCSRF      string
	flagFormSend  bool
)

func init() {
	flags := chatCmd.Flags()
	flags.StringVar(&flagServerURL, "server-url", "http://localhost:8094", "marketplace backend base URL")
	flags.StringVar(&flagRoom, "room", "", "chat room id (required)")
	flags.Int64Var(&flagListing, "listing", 0, "listing id (required)")
	flags.Int64Var(&flagUser, "user", 0, "own user id (required)")
	flags.StringVar(&flagName, "name", "", "own display name")
	flags.Int64Var(&flagBuyer, "buyer", 0, "buyer user id (defaults to --user when role is buyer)")
	flags.StringVar(&flagRole, "role", "buyer", "role in this room: buyer or seller")
	flags.Int64Var(&flagAmount, "amount", 0, "purchase amount (buyer role)")
	flags.StringVar(&flagDataPath, "data-path", "", "optional directory to persist session state via PebbleDB")
	flags.StringVar(&flagCSRF, "csrf-token", "", "CSRF token (fetched from the backend when empty)")
	flags.BoolVar(&flagFormSend, "form-send", false, "send chat over the form-POST path instead of the websocket")
	_ = chatCmd.MarkFlagRequired("room")
	_ = chatCmd.MarkFlagRequired("listing")
	_ = chatCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	isBuyer := flagRole == "buyer"
	isSeller := flagRole == "seller"
	if !isBuyer && !isSeller {
		return fmt.Errorf("unknown role %q (want buyer or seller)", flagRole)
	}
	buyerID := flagBuyer
	if isBuyer && buyerID == 0 {
		buyerID = flagUser
	}
	if buyerID == 0 {
		return fmt.Errorf("seller sessions need --buyer to watch the right order")
	}

	csrfToken := flagCSRF
	if csrfToken == "" {
		token, err := fetchCSRFToken(ctx, flagServerURL)
		if err != nil {
			return fmt.Errorf("fetch csrf token: %w", err)
		}
		csrfToken = token
	}

	store, err := session.Open(flagDataPath)
	if err != nil {
		log.Warn().Err(err).Msg("[chat] open session store failed; running without persistence")
		store = nil
	}
	defer func() { _ = store.Close() }()

	initial, restored, err := store.LoadView(flagRoom)
	if err != nil {
		log.Warn().Err(err).Msg("[chat] load persisted view failed")
	} else if restored {
		log.Info().Int64("order", initial.OrderID).Msg("[chat] restored order view")
	}

	orderClient, err := order.NewClient(nil, flagServerURL, csrfToken)
	if err != nil {
		return err
	}
	orderClient.UserID = flagUser

	events := make(chan tea.Msg, 256)
	engine := ordersync.NewEngine(ordersync.Config{
		ListingID:       flagListing,
		BuyerID:         buyerID,
		Amount:          flagAmount,
		IsBuyer:         isBuyer,
		IsSeller:        isSeller,
		PurchaseControl: isBuyer,
		ConfirmControl:  isSeller,
		Notifier:        tui.EngineNotifier(events),
		Sink:            tui.EngineSink(events),
		Persister:       store.ForRoom(flagRoom),
	}, orderClient)
	defer engine.Close()

	uiCfg := tui.Config{
		Title:    fmt.Sprintf("물품 #%d 채팅 (%s)", flagListing, flagRole),
		SelfID:   flagUser,
		SelfName: flagName,
		Actions:  engine,
		Events:   events,
	}

	var channel *chatwire.Channel
	if flagFormSend {
		uiCfg.FormSender = chatwire.NewFormPoster(nil, formSendURL(flagServerURL, flagRoom, flagUser, flagName), csrfToken, flagUser, flagName)
	} else {
		channel, err = chatwire.Dial(ctx, wsQueryURL(flagServerURL, flagUser, flagName), flagRoom)
		if err != nil {
			return fmt.Errorf("join room: %w", err)
		}
		defer channel.Close()
		uiCfg.Sender = channel
		go tui.ForwardChannel(channel, events)
	}

	engine.Start(ctx, initial)

	program := tea.NewProgram(tui.New(uiCfg), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}

func fetchCSRFToken(ctx context.Context, baseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/csrf/", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var body struct {
		Token string `json:"csrfToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.Token, nil
}

func formSendURL(baseURL, roomID string, userID int64, name string) string {
	q := url.Values{}
	q.Set("user", fmt.Sprint(userID))
	q.Set("name", name)
	return fmt.Sprintf("%s/chat/%s/?%s", baseURL, roomID, q.Encode())
}

func wsQueryURL(baseURL string, userID int64, name string) string {
	// Identity rides the ws URL query; chatwire.RoomURL keeps it intact.
	q := url.Values{}
	q.Set("user", fmt.Sprint(userID))
	q.Set("name", name)
	return baseURL + "?" + q.Encode()
}
