// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 WSRelay Contributors

package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/wsrelay/wsrelay/internal/auth"
	"github.com/wsrelay/wsrelay/internal/channel"
	"github.com/wsrelay/wsrelay/internal/protocol"
	"github.com/wsrelay/wsrelay/internal/server"
	"github.com/wsrelay/wsrelay/internal/stats"
	"github.com/wsrelay/wsrelay/internal/tenant"
	"github.com/wsrelay/wsrelay/internal/trigger"
	"github.com/wsrelay/wsrelay/internal/wire"
)

type client struct {
	ws *websocket.Conn
}

func (c *client) read() wire.Frame {
	GinkgoHelper()
	Expect(c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())
	var f wire.Frame
	Expect(c.ws.ReadJSON(&f)).To(Succeed())
	return f
}

func (c *client) send(v string) {
	GinkgoHelper()
	Expect(c.ws.WriteMessage(websocket.TextMessage, []byte(v))).To(Succeed())
}

func (c *client) socketID() string {
	GinkgoHelper()
	f := c.read()
	Expect(f.Event).To(Equal(wire.EventConnectionEstablished))
	var s string
	Expect(json.Unmarshal(f.Data, &s)).To(Succeed())
	var data struct {
		SocketID string `json:"socket_id"`
	}
	Expect(json.Unmarshal([]byte(s), &data)).To(Succeed())
	return data.SocketID
}

// closed reports whether the server has closed the socket.
func (c *client) closed() bool {
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ws.ReadMessage()
	return err != nil
}

func errorData(f wire.Frame) (int, string) {
	GinkgoHelper()
	Expect(f.Event).To(Equal(wire.EventError))
	var data struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	Expect(json.Unmarshal(f.Data, &data)).To(Succeed())
	return data.Code, data.Message
}

var _ = Describe("Relay server", func() {
	var (
		app      tenant.App
		ts       *httptest.Server
		registry *channel.Registry
		agg      *stats.Aggregator
		manager  *server.Manager
		idle     time.Duration
	)

	dial := func(key string) *client {
		GinkgoHelper()
		u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/app/" + key + "?protocol=7"
		ws, resp, err := websocket.DefaultDialer.Dial(u, nil)
		Expect(err).NotTo(HaveOccurred())
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		DeferCleanup(ws.Close)
		return &client{ws: ws}
	}

	BeforeEach(func() {
		idle = time.Minute
		app = tenant.App{ID: "1", Key: "key", Secret: "secret", ClientMessagesEnabled: true, StatisticsEnabled: true}
	})

	JustBeforeEach(func() {
		dir, err := tenant.NewStaticDirectory([]tenant.App{app})
		Expect(err).NotTo(HaveOccurred())

		registry = channel.NewRegistry()
		agg = stats.NewAggregator(dir, registry, stats.LogSink{}, nil)
		dispatcher := protocol.NewDispatcher(registry, auth.ChannelVerifier{})
		manager = server.NewManager(dir, registry, dispatcher, agg, nil, server.ManagerConfig{
			ClientEventRate:  100,
			ClientEventBurst: 100,
		})
		api := trigger.NewHandler(dir, auth.RequestVerifier{MaxSkew: auth.DefaultMaxSkew}, trigger.NewService(registry, agg, nil))
		srv := server.NewServer("", manager, api, server.Options{IdleTimeout: idle})

		ts = httptest.NewServer(srv.Handler())
		DeferCleanup(func() {
			manager.CloseAll()
			ts.Close()
		})
	})

	It("establishes a connection with a socket id", func() {
		c := dial("key")
		Expect(c.socketID()).To(MatchRegexp(`^\d+\.\d+$`))
		Eventually(func() int { return registry.ConnectionCount("1") }).Should(Equal(1))
	})

	It("rejects an unknown app key and closes", func() {
		c := dial("missing")
		code, msg := errorData(c.read())
		Expect(code).To(Equal(4001))
		Expect(msg).To(Equal("Could not find app key `missing`."))
		Expect(c.closed()).To(BeTrue())
	})

	It("answers pings", func() {
		c := dial("key")
		c.socketID()
		c.send(`{"event":"pusher:ping","data":{}}`)
		Expect(c.read().Event).To(Equal(wire.EventPong))
	})

	It("relays client events to other subscribers only", func() {
		a := dial("key")
		b := dial("key")
		a.socketID()
		b.socketID()

		a.send(`{"event":"pusher:subscribe","data":{"channel":"chat"}}`)
		Expect(a.read().Event).To(Equal(wire.EventSubscriptionSucceeded))
		b.send(`{"event":"pusher:subscribe","data":{"channel":"chat"}}`)
		Expect(b.read().Event).To(Equal(wire.EventSubscriptionSucceeded))

		a.send(`{"event":"client-typing","channel":"chat","data":{"who":"a"}}`)
		f := b.read()
		Expect(f.Event).To(Equal("client-typing"))
		Expect(f.Channel).To(Equal("chat"))
		Expect(string(f.Data)).To(MatchJSON(`{"who":"a"}`))

		a.send(`{"event":"pusher:ping"}`)
		Expect(a.read().Event).To(Equal(wire.EventPong), "sender never receives its own event")
	})

	It("reports malformed frames without closing", func() {
		c := dial("key")
		c.socketID()
		c.send(`not json`)
		code, _ := errorData(c.read())
		Expect(code).To(Equal(4000))

		c.send(`{"event":"pusher:ping"}`)
		Expect(c.read().Event).To(Equal(wire.EventPong))
		Eventually(func() int { return agg.Statistic("1").WebSocketMessages }).Should(BeEquivalentTo(2))
	})

	It("subscribes to presence channels with a valid signature", func() {
		c := dial("key")
		id := c.socketID()
		channelData := `{"user_id":"7","user_info":{"name":"x"}}`
		token := auth.ChannelToken(&app, id, "presence-room", channelData)

		frame, err := json.Marshal(map[string]any{
			"event": "pusher:subscribe",
			"data": map[string]string{
				"channel":      "presence-room",
				"auth":         token,
				"channel_data": channelData,
			},
		})
		Expect(err).NotTo(HaveOccurred())
		c.send(string(frame))

		f := c.read()
		Expect(f.Event).To(Equal(wire.EventSubscriptionSucceeded))
		Expect(registry.Members("1", "presence-room").IDs).To(Equal([]string{"7"}))
	})

	It("delivers events triggered over the HTTP API", func() {
		c := dial("key")
		c.socketID()
		c.send(`{"event":"pusher:subscribe","data":{"channel":"news"}}`)
		Expect(c.read().Event).To(Equal(wire.EventSubscriptionSucceeded))

		body := []byte(`{"name":"headline","channels":["news"],"data":"\"hello\""}`)
		q := auth.SignRequest(&app, http.MethodPost, "/apps/1/events", url.Values{}, body, time.Now())
		resp, err := http.Post(ts.URL+"/apps/1/events?"+q.Encode(), "application/json", bytes.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		f := c.read()
		Expect(f.Event).To(Equal("headline"))
		Expect(f.Channel).To(Equal("news"))
		Expect(agg.Statistic("1").APIMessages).To(BeEquivalentTo(1))
	})

	It("releases the connection when the client disconnects", func() {
		c := dial("key")
		c.socketID()
		Eventually(func() int { return registry.ConnectionCount("1") }).Should(Equal(1))

		Expect(c.ws.Close()).To(Succeed())
		Eventually(func() int { return registry.ConnectionCount("1") }).Should(BeZero())
		Eventually(func() int { return agg.Statistic("1").CurrentConnections }).Should(BeZero())
	})

	Context("with capacity one", func() {
		BeforeEach(func() {
			capacity := 1
			app.Capacity = &capacity
		})

		It("rejects the second connection", func() {
			a := dial("key")
			a.socketID()

			b := dial("key")
			code, msg := errorData(b.read())
			Expect(code).To(Equal(4100))
			Expect(msg).To(Equal("Over capacity"))
			Expect(b.closed()).To(BeTrue())
		})
	})

	Context("with a short idle timeout", func() {
		BeforeEach(func() {
			idle = 200 * time.Millisecond
		})

		It("closes silent connections", func() {
			c := dial("key")
			c.socketID()
			Expect(c.closed()).To(BeTrue())
			Eventually(func() int { return registry.ConnectionCount("1") }).Should(BeZero())
		})
	})
})
