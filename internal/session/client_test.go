package session

import (
	"net"
	"testing"
	"time"

	"github.com/jason-s-yu/sipsync/internal/models"
	"github.com/jason-s-yu/sipsync/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHost accepts a single connection and hands it to the test.
func fakeHost(t *testing.T) (port int, accepted <-chan net.Conn) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	ch := make(chan net.Conn, 1)
	go func() {
		nc, err := l.Accept()
		if err != nil {
			return
		}
		ch <- nc
	}()
	return l.Addr().(*net.TCPAddr).Port, ch
}

func acceptOne(t *testing.T, accepted <-chan net.Conn) net.Conn {
	t.Helper()
	select {
	case nc := <-accepted:
		t.Cleanup(func() { _ = nc.Close() })
		return nc
	case <-time.After(waitTimeout):
		t.Fatal("client never connected")
		return nil
	}
}

func writeFrame(t *testing.T, nc net.Conn, msg protocol.Message) {
	t.Helper()
	frame, err := protocol.Encode(msg)
	require.NoError(t, err)
	_, err = nc.Write(frame)
	require.NoError(t, err)
}

func newTestClient(t *testing.T, player models.PlayerInfo) (*Client, *recorder) {
	t.Helper()
	c, err := NewClient(ClientConfig{Logger: quietLogger(), LocalPlayer: player})
	require.NoError(t, err)
	return c, record(c.Subscribe)
}

func TestClientAnnouncesAndSavesProfile(t *testing.T) {
	prof := &memProfile{data: models.UserData{Player: models.NewPlayer("alice")}}
	c, err := NewClient(ClientConfig{Logger: quietLogger(), Profile: prof})
	require.NoError(t, err)

	port, accepted := fakeHost(t)
	require.NoError(t, c.Start(t.Context(), port, "127.0.0.1"))
	defer c.Disconnect()
	assert.Equal(t, ClientConnected, c.Status())

	nc := acceptOne(t, accepted)
	msg, err := protocol.NewDecoder(nc).Next()
	require.NoError(t, err)
	pu, ok := msg.(protocol.PlayerUpdate)
	require.True(t, ok)
	assert.Equal(t, "alice", pu.Player.Name)

	ud := prof.get()
	assert.Equal(t, "127.0.0.1", ud.LastHost)
	assert.Equal(t, port, ud.LastPort)
}

func TestClientStartRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	c, _ := newTestClient(t, models.NewPlayer("alice"))
	err = c.Start(t.Context(), port, "127.0.0.1")
	require.ErrorIs(t, err, ErrConnectError)
	assert.Equal(t, ClientDisconnected, c.Status())
}

func TestClientStartTwice(t *testing.T) {
	c, _ := newTestClient(t, models.NewPlayer("alice"))
	port, accepted := fakeHost(t)
	require.NoError(t, c.Start(t.Context(), port, "127.0.0.1"))
	defer c.Disconnect()
	acceptOne(t, accepted)

	require.ErrorIs(t, c.Start(t.Context(), port, "127.0.0.1"), ErrAlreadyRunning)
}

func TestClientDispatch(t *testing.T) {
	c, rec := newTestClient(t, models.NewPlayer("alice"))
	port, accepted := fakeHost(t)
	require.NoError(t, c.Start(t.Context(), port, "127.0.0.1"))
	defer c.Disconnect()
	nc := acceptOne(t, accepted)

	rules := models.GameRules{Rules: []models.Rule{drinkRule}, Pace: 3, PaceQuantity: 2}
	writeFrame(t, nc, protocol.RuleUpdate{Rules: rules})
	writeFrame(t, nc, protocol.ElapsedMinutesUpdate{ElapsedMinutes: 4})

	alice := models.NewPlayer("alice")
	alice.DrinkCount = 11
	writeFrame(t, nc, protocol.PlayerListUpdate{Players: []models.PlayerInfo{models.NewPlayer("host"), alice}})

	require.Eventually(t, func() bool { return c.LocalPlayer().DrinkCount == 11 }, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, rules, c.Rules())
	assert.Equal(t, 4.0, c.ElapsedMinutes())
	assert.Len(t, c.Players(), 2)

	host := models.NewPlayer("host")
	writeFrame(t, nc, protocol.TriggerIndividualRule{Rule: pointRule, Player: host})
	ev := rec.punishment(t)
	require.NotNil(t, ev.Player)
	assert.Equal(t, "host", ev.Player.Name)
	assert.Equal(t, "host drinks 4 sips", ev.Description)

	rule := pointRule
	rule.PunishmentType = models.AllButOne
	writeFrame(t, nc, protocol.TriggerAllButOneRule{Rule: rule, Player: host})
	ev = rec.punishment(t)
	require.NotNil(t, ev.Player)
	assert.Equal(t, "Everyone but host drinks 4 sips", ev.Description)

	writeFrame(t, nc, protocol.TriggerGroupRule{Rule: drinkRule})
	ev = rec.punishment(t)
	assert.Nil(t, ev.Player)
	assert.Equal(t, "Everyone drink 2 sips", ev.Description)

	pace := PaceRule(rules)
	writeFrame(t, nc, protocol.TriggerEventPaceRule{Rule: pace})
	ev = rec.punishment(t)
	assert.Nil(t, ev.Player)
	assert.Equal(t, models.EventPace, ev.Rule.PunishmentType)

	// Unknown tags and junk are skipped; the connection keeps working.
	_, err := nc.Write([]byte("COUNTER:3\nnonsense\n"))
	require.NoError(t, err)
	writeFrame(t, nc, protocol.ElapsedMinutesUpdate{ElapsedMinutes: 5})
	require.Eventually(t, func() bool { return c.ElapsedMinutes() == 5 }, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, ClientConnected, c.Status())
}

func TestClientTriggerRulePrecondition(t *testing.T) {
	c, rec := newTestClient(t, models.NewPlayer("alice"))
	port, accepted := fakeHost(t)
	require.NoError(t, c.Start(t.Context(), port, "127.0.0.1"))
	defer c.Disconnect()
	nc := acceptOne(t, accepted)

	for _, typ := range []models.PunishmentType{models.Individual, models.AllButOne} {
		rule := pointRule
		rule.PunishmentType = typ
		require.ErrorIs(t, c.TriggerRule(rule, nil), ErrPrecondition, typ)
	}
	rec.noPunishment(t, 20*time.Millisecond)

	require.NoError(t, c.TriggerRule(drinkRule, nil))

	// Only the announce and the group trigger reached the host.
	dec := protocol.NewDecoder(nc)
	msg, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypePlayerUpdate, msg.Type())
	msg, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeTriggerGroupRule, msg.Type())

	ev := rec.punishment(t)
	assert.Equal(t, drinkRule, ev.Rule)
}

func TestClientTriggerRuleNotConnected(t *testing.T) {
	c, _ := newTestClient(t, models.NewPlayer("alice"))
	require.ErrorIs(t, c.TriggerRule(drinkRule, nil), ErrNotConnected)
	require.ErrorIs(t, c.TriggerRule(pointRule, nil), ErrPrecondition)
}

func TestClientDisconnectFiresOnce(t *testing.T) {
	c, rec := newTestClient(t, models.NewPlayer("alice"))
	port, accepted := fakeHost(t)
	require.NoError(t, c.Start(t.Context(), port, "127.0.0.1"))
	nc := acceptOne(t, accepted)

	// The host going away and a local Disconnect race to close the connection.
	_ = nc.Close()
	c.Disconnect()
	c.Disconnect()

	select {
	case <-rec.disconnects:
	case <-time.After(waitTimeout):
		t.Fatal("no disconnect notification")
	}
	select {
	case err := <-rec.disconnects:
		t.Fatalf("second disconnect notification: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, ClientDisconnected, c.Status())
}

func TestClientCanReconnect(t *testing.T) {
	h := startHost(t, HostConfig{})
	c, rec := startClient(t, h, models.NewPlayer("alice"))

	c.Disconnect()
	<-rec.disconnects
	require.Eventually(t, func() bool { return !hasPlayer(h.Players(), "alice") }, waitTimeout, 10*time.Millisecond)

	require.NoError(t, c.Start(t.Context(), hostPort(t, h), "127.0.0.1"))
	require.Eventually(t, func() bool { return hasPlayer(h.Players(), "alice") }, waitTimeout, 10*time.Millisecond)
}

func TestClientEditPlayer(t *testing.T) {
	prof := &memProfile{data: models.UserData{Player: models.NewPlayer("alice")}}
	h := startHost(t, HostConfig{})

	c, err := NewClient(ClientConfig{Logger: quietLogger(), Profile: prof})
	require.NoError(t, err)
	require.NoError(t, c.Start(t.Context(), hostPort(t, h), "127.0.0.1"))
	defer c.Disconnect()
	require.Eventually(t, func() bool { return hasPlayer(h.Players(), "alice") }, waitTimeout, 10*time.Millisecond)

	require.ErrorIs(t, c.EditPlayer("", 1), ErrPrecondition)

	require.NoError(t, c.EditPlayer("alicia", 0.5))
	assert.Equal(t, "alicia", prof.get().Player.Name)
	assert.Equal(t, 0.5, c.LocalPlayer().DrinkModifier)

	require.Eventually(t, func() bool {
		ps := c.Players()
		return hasPlayer(ps, "alicia") && !hasPlayer(ps, "alice")
	}, waitTimeout, 10*time.Millisecond)
}

func TestClientEditPlayerOffline(t *testing.T) {
	prof := &memProfile{data: models.UserData{Player: models.NewPlayer("alice")}}
	c, err := NewClient(ClientConfig{Logger: quietLogger(), Profile: prof})
	require.NoError(t, err)

	require.NoError(t, c.EditPlayer("bea", 2))
	assert.Equal(t, "bea", prof.get().Player.Name)
}

func TestClientFinishDrinkRoutesThroughHost(t *testing.T) {
	h := startHost(t, HostConfig{})
	hostEvents := record(h.Subscribe)

	player := models.PlayerInfo{Name: "alice", DrinkModifier: 0.5, DrinkCount: 25}
	c, rec := startClient(t, h, player)

	require.NoError(t, c.FinishDrink())

	local := rec.punishment(t)
	assert.Equal(t, 30, local.Rule.PunishmentQuantity)
	assert.Equal(t, "alice finishes their drink: 15 sips", local.Description)

	remote := hostEvents.punishment(t)
	require.NotNil(t, remote.Player)
	assert.Equal(t, "alice", remote.Player.Name)

	require.Eventually(t, func() bool { return c.LocalPlayer().DrinkCount == 40 }, waitTimeout, 10*time.Millisecond)
}

func TestClientsSeeEachOthersTriggers(t *testing.T) {
	h := startHost(t, HostConfig{})
	alice, aliceEvents := startClient(t, h, models.NewPlayer("alice"))
	_, bobEvents := startClient(t, h, models.NewPlayer("bob"))

	bob := models.NewPlayer("bob")
	require.NoError(t, alice.TriggerRule(pointRule, &bob))

	ev := bobEvents.punishment(t)
	require.NotNil(t, ev.Player)
	assert.Equal(t, "bob", ev.Player.Name)

	// alice fires locally and is not echoed a second event.
	aliceEvents.punishment(t)
	aliceEvents.noPunishment(t, 100*time.Millisecond)
}
