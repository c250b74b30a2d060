package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestPing(t *testing.T) {
	Convey("Given a client notification endpoint", t, func() {
		var calls int32
		var status int32 = http.StatusNoContent
		var gotAuth, gotID string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			gotAuth = r.Header.Get("Authorization")
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			gotID = body["auth_req_id"]
			w.WriteHeader(int(atomic.LoadInt32(&status)))
		}))
		defer srv.Close()
		n := NewPingNotifier(srv.Client(), nil)

		Convey("a successful ping carries the token and auth_req_id", func() {
			err := n.Ping(context.Background(), srv.URL, "notify-token", "auth-req-1")
			So(err, ShouldBeNil)
			So(gotAuth, ShouldEqual, "Bearer notify-token")
			So(gotID, ShouldEqual, "auth-req-1")
			So(atomic.LoadInt32(&calls), ShouldEqual, int32(1))
		})

		Convey("client errors are not retried", func() {
			atomic.StoreInt32(&status, http.StatusUnauthorized)
			err := n.Ping(context.Background(), srv.URL, "bad", "auth-req-1")
			So(err, ShouldNotBeNil)
			So(atomic.LoadInt32(&calls), ShouldEqual, int32(1))
		})

		Convey("server errors are retried up to the limit", func() {
			atomic.StoreInt32(&status, http.StatusBadGateway)
			err := n.Ping(context.Background(), srv.URL, "notify-token", "auth-req-1")
			So(err, ShouldNotBeNil)
			So(atomic.LoadInt32(&calls), ShouldEqual, int32(3))
		})
	})
}
