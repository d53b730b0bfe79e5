// Command chat is an interactive terminal client for a running brain.
package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type client struct {
	server    string
	user      string
	sessionID string
	http      *http.Client
}

func main() {
	server := flag.String("server", "http://localhost:8000", "brain server URL")
	user := flag.String("user", "cli-user", "user id")
	flag.Parse()

	c := &client{
		server: strings.TrimRight(*server, "/"),
		user:   *user,
		http:   &http.Client{Timeout: 130 * time.Second},
	}

	fmt.Println("AI Brain CLI Chat")
	fmt.Printf("Server: %s | User: %s\n", c.server, c.user)
	fmt.Println("Type 'exit' or 'quit' to leave.")
	fmt.Println("Commands: /status, /agents, /new")
	fmt.Println("---")

	c.fetchAgents()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "exit", "quit":
			fmt.Println("Bye!")
			return
		case "/status":
			c.fetchStatus()
		case "/agents":
			c.fetchAgents()
		case "/new":
			c.sessionID = ""
			fmt.Println("Started a new session.")
		default:
			c.send(input)
		}
	}
}

func (c *client) fetchAgents() {
	var agents []struct {
		Role        string `json:"role"`
		Authority   string `json:"authority"`
		Coordinator bool   `json:"coordinator"`
	}
	if err := c.get("/agents", &agents); err != nil {
		printError("Failed to fetch agents: %v", err)
		return
	}
	if len(agents) == 0 {
		fmt.Println("No agents registered.")
		return
	}
	fmt.Println("Available agents:")
	for _, a := range agents {
		mark := ""
		if a.Coordinator {
			mark = " (coordinator)"
		}
		fmt.Printf("  %s%s, authority: %s\n", a.Role, mark, a.Authority)
	}
}

func (c *client) fetchStatus() {
	var st struct {
		BrainStatus string `json:"brain_status"`
		Memory      string `json:"memory"`
		AgentSystem struct {
			TotalAgents   int    `json:"total_agents"`
			PrimaryAgent  string `json:"primary_agent"`
			RoutingPolicy string `json:"routing_policy"`
		} `json:"agent_system"`
		Active    int64 `json:"active_workflows"`
		Processed int64 `json:"processed"`
	}
	if err := c.get("/status", &st); err != nil {
		printError("Failed to fetch status: %v", err)
		return
	}
	fmt.Printf("Brain: %s | memory: %s\n", st.BrainStatus, st.Memory)
	fmt.Printf("Agents: %d, primary %s, routing %s\n",
		st.AgentSystem.TotalAgents, st.AgentSystem.PrimaryAgent, st.AgentSystem.RoutingPolicy)
	fmt.Printf("Workflows: %d active, %d processed\n", st.Active, st.Processed)
}

func (c *client) get(path string, v interface{}) error {
	resp, err := c.http.Get(c.server + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *client) send(message string) {
	body, _ := json.Marshal(map[string]string{
		"message":    message,
		"user_id":    c.user,
		"interface":  "chat",
		"session_id": c.sessionID,
	})

	resp, err := c.http.Post(c.server+"/orchestrate", "application/json", bytes.NewReader(body))
	if err != nil {
		printError("Request failed: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		printError("Server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
		return
	}

	var res struct {
		Response  string `json:"response"`
		Agent     string `json:"agent"`
		SessionID string `json:"session_id"`
		Error     string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		printError("Failed to parse response: %v", err)
		return
	}
	c.sessionID = res.SessionID

	if res.Agent != "" {
		fmt.Printf("\033[36m[%s]\033[0m %s\n", res.Agent, res.Response)
	} else {
		fmt.Println(res.Response)
	}
	if res.Error != "" {
		printError("(%s)", res.Error)
	}
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
