// Package wsrelay implements a small chat relay over WebSocket text frames.
//
// A Server keeps at most MaxSessions clients and forwards every message it
// receives to the other clients, rewriting the sender's name from its own
// registry. A Client connects to a Server, sends chat lines and reports what
// the relay delivers.
//
// Example
//
// A relay on the default port:
//
//	func main() {
//		s := wsrelay.New(wsrelay.WithMaxSessions(10))
//		s.HandleConnect(func(id int) {
//			log.Println("session", id, "joined")
//		})
//		log.Fatal(s.ListenAndServe(context.Background()))
//	}
//
// The same relay mounted on an HTTP router:
//
//	r := gin.Default()
//	r.GET("/ws", func(c *gin.Context) {
//		s.HandleRequest(c.Writer, c.Request)
//	})
package wsrelay
