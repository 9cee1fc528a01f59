package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"screen-server/internal/config"
	"screen-server/internal/realtime"
)

// cli_chat es un cliente de terminal para probar el gateway a mano, como
// usuario o como operador.
func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	url := flag.String("url", "ws://localhost:"+cfg.HTTPPort+"/ws", "endpoint websocket")
	role := flag.String("as", "user", "user u operator")
	id := flag.String("id", "cli-user", "userId u operatorId")
	flag.Parse()

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		log.Fatalf("dial %s: %v", *url, err)
	}
	defer conn.Close()

	c := &client{conn: conn, role: *role, id: *id}
	go c.printEvents()

	switch c.role {
	case "user":
		c.send(realtime.CmdJoinAsUser, realtime.JoinAsUserPayload{UserID: c.id})
	case "operator":
		c.send(realtime.CmdChangeOperatorStatus, realtime.ChangeOperatorStatusPayload{OperatorID: c.id, Status: "online"})
	default:
		log.Fatalf("unknown role %q", c.role)
	}

	fmt.Println("Escribe un mensaje o un comando: /join <sesion>, /status <estado>, /history, /read, /end, /quit")
	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "/quit" {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
		c.handleLine(line)
	}
}

type client struct {
	conn      *websocket.Conn
	role      string
	id        string
	mu        sync.Mutex
	sessionID string
}

func (c *client) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *client) setSession(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

func (c *client) handleLine(line string) {
	if !strings.HasPrefix(line, "/") {
		if c.role == "user" {
			c.send(realtime.CmdSendUserMessage, realtime.SendUserMessagePayload{Content: line})
			return
		}
		c.send(realtime.CmdSendOperatorMessage, realtime.SendOperatorMessagePayload{
			OperatorID: c.id,
			SessionID:  c.session(),
			Content:    line,
		})
		return
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/join":
		c.setSession(arg)
		c.send(realtime.CmdJoinAsOperator, realtime.JoinAsOperatorPayload{OperatorID: c.id, SessionID: arg})
	case "/status":
		c.send(realtime.CmdChangeOperatorStatus, realtime.ChangeOperatorStatusPayload{OperatorID: c.id, Status: arg})
	case "/history":
		c.send(realtime.CmdFetchHistory, realtime.FetchHistoryPayload{SessionID: c.session()})
	case "/read":
		c.send(realtime.CmdMarkRead, realtime.MarkReadPayload{SessionID: c.session()})
	case "/end":
		c.send(realtime.CmdEndSession, realtime.EndSessionPayload{SessionID: c.session(), OperatorID: c.id})
	default:
		fmt.Println("comando desconocido:", cmd)
	}
}

func (c *client) send(cmd realtime.CommandType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("encode %s: %v", cmd, err)
		return
	}
	if err := c.conn.WriteJSON(realtime.Command{Type: cmd, Payload: raw}); err != nil {
		log.Printf("send %s: %v", cmd, err)
	}
}

func (c *client) printEvents() {
	for {
		var ev struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := c.conn.ReadJSON(&ev); err != nil {
			log.Printf("conexion cerrada: %v", err)
			os.Exit(0)
		}
		if ev.Type == realtime.EventSessionCreated && c.role == "user" {
			var p realtime.SessionCreatedPayload
			if json.Unmarshal(ev.Payload, &p) == nil {
				c.setSession(p.SessionID)
			}
		}
		fmt.Printf("<- %s %s\n", ev.Type, ev.Payload)
	}
}
