package wsapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carpool/carpool"
	"carpool/identity/identitytest"
	"carpool/model"
	"carpool/tree/memtree"
	"carpool/wscodes"
)

const waitFor = 2 * time.Second

var monday = time.Date(2021, time.March, 1, 8, 0, 0, 0, time.UTC)

type gateway struct {
	store *memtree.Store
	ids   *identitytest.Provider
	hub   *Hub
	srv   *httptest.Server
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	g := &gateway{store: memtree.New(), ids: identitytest.New(), hub: NewHub()}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go g.hub.Run(ctx)
	g.srv = httptest.NewServer(NewConnector(g.hub, func() *carpool.API {
		return carpool.New(g.store, g.ids)
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *gateway) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(g.srv.URL, "http"), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, m *Message) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(m))
}

// next reads messages until ok accepts one.
func next(t *testing.T, conn *websocket.Conn, ok func(*Message) bool) *Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(waitFor))
	defer conn.SetReadDeadline(time.Time{})
	for {
		var m Message
		require.NoError(t, conn.ReadJSON(&m))
		if ok(&m) {
			return &m
		}
	}
}

func reply(uid string) func(*Message) bool {
	return func(m *Message) bool { return m.UID == uid }
}

func TestGatewayRequests(t *testing.T) {
	g := newGateway(t)
	conn := g.dial(t, nil)

	send(t, conn, &Message{UID: "1", Endpoint: endpointSignUp, Email: "ann@example.com", Password: "secret", Name: "Ann Lee"})
	m := next(t, conn, reply("1"))
	require.Equal(t, wscodes.StatusSuccess, m.Status, m.Text)
	require.NotNil(t, m.User)
	assert.Equal(t, "Ann Lee", m.User.Name)

	when := monday
	send(t, conn, &Message{UID: "2", Endpoint: endpointCreateTrip, Description: "Soccer", Time: &when})
	m = next(t, conn, reply("2"))
	require.Equal(t, wscodes.StatusSuccess, m.Status, m.Text)
	require.NotNil(t, m.Trip)
	tripKey := m.Trip.Key

	send(t, conn, &Message{UID: "3", Endpoint: endpointClaim, TripKey: tripKey, Leg: model.PickUp})
	m = next(t, conn, reply("3"))
	assert.Equal(t, wscodes.StatusSuccess, m.Status, m.Text)

	tests := []struct {
		name   string
		msg    *Message
		status string
		text   string
	}{
		{name: "unknown endpoint", msg: &Message{Endpoint: "FILE_UPDATE"}, status: wscodes.StatusEndpointNotValid},
		{name: "blank description", msg: &Message{Endpoint: endpointCreateTrip, Description: " ", Time: &when}, status: wscodes.StatusValidationFailed, text: carpool.ErrEmptyDescription.Error()},
		{name: "missing trip", msg: &Message{Endpoint: endpointClaim, TripKey: "nope", Leg: model.DropOff}, status: wscodes.StatusNotFound, text: wscodes.GenericText},
		{name: "bad leg", msg: &Message{Endpoint: endpointClaim, TripKey: tripKey, Leg: "sideways"}, status: wscodes.StatusValidationFailed, text: carpool.ErrInvalidLeg.Error()},
		{name: "unknown child", msg: &Message{Endpoint: endpointAddChildToTrip, TripKey: tripKey, ChildKey: "c1"}, status: wscodes.StatusNotFound},
		{name: "empty search", msg: &Message{Endpoint: endpointSearch, Query: ""}, status: wscodes.StatusValidationFailed, text: carpool.ErrEmptySearch.Error()},
		{name: "unknown subscription", msg: &Message{Endpoint: endpointUnobserve, Subscription: "s1"}, status: wscodes.StatusNotFound},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.msg.UID = "case" + string(rune('a'+i))
			send(t, conn, tt.msg)
			m := next(t, conn, reply(tt.msg.UID))
			assert.Equal(t, tt.status, m.Status)
			if tt.text != "" {
				assert.Equal(t, tt.text, m.Text)
			}
			assert.Equal(t, tt.msg.Endpoint, m.Endpoint)
		})
	}

	send(t, conn, &Message{UID: "4", Endpoint: endpointCurrentUser})
	m = next(t, conn, reply("4"))
	require.NotNil(t, m.User)
	assert.Equal(t, "Ann Lee", m.User.Name)
}

func TestGatewayObserveAndUnobserve(t *testing.T) {
	g := newGateway(t)
	conn := g.dial(t, nil)

	send(t, conn, &Message{UID: "up", Endpoint: endpointSignUp, Email: "ann@example.com", Password: "secret", Name: "Ann"})
	require.Equal(t, wscodes.StatusSuccess, next(t, conn, reply("up")).Status)

	send(t, conn, &Message{UID: "obs", Endpoint: endpointObserveTrips})
	ack := next(t, conn, func(m *Message) bool { return m.UID == "obs" && m.Status == wscodes.StatusSuccess })
	require.NotEmpty(t, ack.Subscription)
	next(t, conn, func(m *Message) bool {
		return m.Subscription == ack.Subscription && m.Status == wscodes.StatusUpdate && len(m.Trips) == 0
	})

	when := monday
	send(t, conn, &Message{UID: "create", Endpoint: endpointCreateTrip, Description: "Soccer", Time: &when})
	u := next(t, conn, func(m *Message) bool {
		return m.Subscription == ack.Subscription && len(m.Trips) == 1
	})
	assert.Equal(t, endpointObserveTrips, u.Endpoint)
	assert.Equal(t, "Soccer", u.Trips[0].Event.Description)
	require.Eventually(t, func() bool { return g.store.Listeners() == 1 }, waitFor, 10*time.Millisecond)

	send(t, conn, &Message{UID: "unobs", Endpoint: endpointUnobserve, Subscription: ack.Subscription})
	seenOK, seenClosed := false, false
	next(t, conn, func(m *Message) bool {
		if m.UID == "unobs" && m.Status == wscodes.StatusSuccess {
			seenOK = true
		}
		if m.Subscription == ack.Subscription && m.Status == wscodes.StatusStreamClosed {
			seenClosed = true
		}
		return seenOK && seenClosed
	})
	require.Eventually(t, func() bool { return g.store.Listeners() == 0 }, waitFor, 10*time.Millisecond)
}

func TestGatewayCalendar(t *testing.T) {
	g := newGateway(t)
	conn := g.dial(t, nil)

	send(t, conn, &Message{UID: "cal", Endpoint: endpointObserveCalendar})
	ack := next(t, conn, reply("cal"))
	require.Equal(t, wscodes.StatusSuccess, ack.Status, ack.Text)
	u := next(t, conn, func(m *Message) bool { return m.Subscription == ack.Subscription })
	assert.Equal(t, wscodes.StatusUpdate, u.Status)
	assert.Len(t, u.Week, 7)
}

func TestClosingConnectionTearsDownObservations(t *testing.T) {
	g := newGateway(t)
	conn := g.dial(t, nil)

	for _, endpoint := range []string{endpointObserveTrips, endpointObserveFriends, endpointObserveFriendsTrips} {
		send(t, conn, &Message{UID: endpoint, Endpoint: endpoint})
		m := next(t, conn, func(m *Message) bool { return m.UID == endpoint && m.Status != wscodes.StatusUpdate })
		require.Equal(t, wscodes.StatusSuccess, m.Status, m.Text)
	}
	require.Eventually(t, func() bool { return g.store.Listeners() == 4 }, waitFor, 10*time.Millisecond)
	assert.Equal(t, 1, g.hub.Clients())

	conn.Close()

	require.Eventually(t, func() bool { return g.store.Listeners() == 0 }, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool { return g.hub.Clients() == 0 }, waitFor, 10*time.Millisecond)
}

func TestBearerTokenResumesSession(t *testing.T) {
	g := newGateway(t)
	s, err := g.ids.SignUp(context.Background(), "kim@example.com", "secret")
	require.NoError(t, err)

	conn := g.dial(t, http.Header{"Authorization": []string{"Bearer " + s.IDToken}})
	send(t, conn, &Message{UID: "me", Endpoint: endpointCurrentUser})
	m := next(t, conn, reply("me"))
	require.Equal(t, wscodes.StatusSuccess, m.Status, m.Text)
	assert.Equal(t, s.UID, m.User.Key)
	assert.Zero(t, g.ids.AnonymousSignIns)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(g.srv.URL, "http"),
		http.Header{"Authorization": []string{"Bearer bogus"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{header: "", want: ""},
		{header: "Bearer abc", want: "abc"},
		{header: "bearer  abc ", want: "abc"},
		{header: "Basic abc", want: ""},
		{header: "Bear", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, bearerToken(r))
		})
	}
}
