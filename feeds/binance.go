package feeds

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dyntrade/tracker/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BINANCE FEED - Real-time trade stream over WebSocket
// ═══════════════════════════════════════════════════════════════════════════════
//
// Streams the per-trade feed for one symbol and fans samples out to
// subscribers. Reconnects with a short backoff on any read failure.
//
// ═══════════════════════════════════════════════════════════════════════════════

const binanceWSURL = "wss://stream.binance.com:9443/ws"

// BinanceFeed streams one symbol's trades
type BinanceFeed struct {
	mu      sync.RWMutex
	symbol  string
	conn    *websocket.Conn
	running bool
	stopCh  chan struct{}

	lastPrice decimal.Decimal

	subscribers []chan types.PriceUpdate
}

// NewBinanceFeed creates a feed for a symbol like "BTCUSDT"
func NewBinanceFeed(symbol string) *BinanceFeed {
	return &BinanceFeed{
		symbol: strings.ToUpper(symbol),
		stopCh: make(chan struct{}),
	}
}

// Start connects and begins streaming
func (f *BinanceFeed) Start() error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = true
	f.mu.Unlock()

	go f.runWebSocket()
	log.Info().Str("symbol", f.symbol).Msg("📈 Binance feed started")
	return nil
}

// Stop closes the connection and stops the feed
func (f *BinanceFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}
	f.running = false
	close(f.stopCh)
	if f.conn != nil {
		f.conn.Close()
	}
	log.Info().Msg("Binance feed stopped")
}

// Subscribe returns a channel receiving every trade sample. A slow
// subscriber drops samples rather than stalling the feed.
func (f *BinanceFeed) Subscribe() <-chan types.PriceUpdate {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan types.PriceUpdate, 256)
	f.subscribers = append(f.subscribers, ch)
	return ch
}

// LastPrice returns the most recently streamed price
func (f *BinanceFeed) LastPrice() decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lastPrice
}

func (f *BinanceFeed) isRunning() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.running
}

func (f *BinanceFeed) runWebSocket() {
	for f.isRunning() {
		if err := f.connect(); err != nil {
			log.Error().Err(err).Msg("WebSocket connection failed")
			select {
			case <-f.stopCh:
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		f.readMessages()

		if f.isRunning() {
			log.Warn().Msg("WebSocket disconnected, reconnecting...")
			time.Sleep(time.Second)
		}
	}
}

func (f *BinanceFeed) connect() error {
	url := fmt.Sprintf("%s/%s@trade", binanceWSURL, strings.ToLower(f.symbol))

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	log.Info().Str("url", url).Msg("🔌 WebSocket connected to Binance")
	return nil
}

func (f *BinanceFeed) readMessages() {
	for f.isRunning() {
		_, message, err := f.conn.ReadMessage()
		if err != nil {
			if f.isRunning() {
				log.Error().Err(err).Msg("WebSocket read error")
			}
			return
		}
		f.handleMessage(message)
	}
}

// tradeMessage is the Binance @trade stream payload
type tradeMessage struct {
	EventType string `json:"e"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

func (f *BinanceFeed) handleMessage(data []byte) {
	var msg tradeMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.EventType != "trade" {
		return
	}

	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return
	}
	volume, err := decimal.NewFromString(msg.Quantity)
	if err != nil {
		return
	}

	f.mu.Lock()
	f.lastPrice = price
	f.mu.Unlock()

	f.broadcast(types.PriceUpdate{
		Symbol:    f.symbol,
		Price:     price,
		Volume:    volume,
		Timestamp: time.UnixMilli(msg.TradeTime),
	})
}

func (f *BinanceFeed) broadcast(update types.PriceUpdate) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, ch := range f.subscribers {
		select {
		case ch <- update:
		default:
			// Channel full, skip
		}
	}
}
