package core

import (
	"context"
	"fmt"
	"net/http"
	"testing"
)

func benchmarkRoomBroadcast(b *testing.B, recipients int) {
	users := []string{"sender"}
	for i := range recipients {
		users = append(users, fmt.Sprintf("u%d", i))
	}
	hub := NewHub(headerAuth{}, newStaticChecker(map[string][]string{"bench": users}), nil, Options{SendBuffer: 64})

	var target *Conn
	for i, user := range users {
		conn, err := hub.Admit(http.Header{"X-User": []string{user}})
		if err != nil {
			b.Fatal(err)
		}
		if err := hub.Activate(conn); err != nil {
			b.Fatal(err)
		}
		if err := hub.Join(context.Background(), conn, "bench"); err != nil {
			b.Fatal(err)
		}
		switch i {
		case 0:
			// The sender never receives its own messages; drain presence only.
			go func() {
				for range conn.Events() {
				}
			}()
		case 1:
			target = conn
		default:
			// Drain events for all but the first recipient to avoid drops.
			go func() {
				for range conn.Events() {
				}
			}()
		}
	}
	for len(target.events) > 0 {
		<-target.events
	}

	b.ReportAllocs()
	b.ResetTimer()

	for range b.N {
		hub.Router().EmitNewMessage("sender", "bench", "payload")
		<-target.Events()
	}
}

func BenchmarkRoomBroadcast_10(b *testing.B)  { benchmarkRoomBroadcast(b, 10) }
func BenchmarkRoomBroadcast_100(b *testing.B) { benchmarkRoomBroadcast(b, 100) }
func BenchmarkRoomBroadcast_500(b *testing.B) { benchmarkRoomBroadcast(b, 500) }
