package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/castrilha/castrilha"
	"github.com/castrilha/castrilha/link"
	"github.com/castrilha/castrilha/position"
	"github.com/castrilha/castrilha/routing"
)

var (
	nav    *castrilha.Navigator
	device *link.Link
)

func main() {
	var err error

	// Positions come from a recorded walk; instructions are printed to
	// stdout instead of a wearable.
	replay, err := position.LoadReplay("testdata/paulista.jsonl", 2*time.Second, false)
	if err != nil {
		log.Fatalf("Failed to load replay track: %v", err)
	}
	device = link.New(link.NewConsoleTransport(os.Stdout))

	// Option 1: Zero-config storage (SQLite)
	// Creates castrilha.db automatically
	nav, err = castrilha.New(castrilha.Config{
		Positions:  position.NewTracker(replay),
		Dispatcher: device,
		Router:     routing.NewValhalla(),
		// Optional: path to MaxMind GeoLite2-City.mmdb for IP-based route origins
		// GeoIPDatabasePath: "./GeoLite2-City.mmdb",
	})
	if err != nil {
		log.Fatalf("Failed to initialize navigator: %v", err)
	}
	defer nav.Close()

	// Option 2: Shared storage (MySQL or Redis) and a real device
	// Uncomment to use:
	/*
		mysqlStore, err := store.NewMySQLFromDSN("user:password@tcp(localhost:3306)/castrilha")
		if err != nil {
			log.Fatalf("Failed to connect to MySQL: %v", err)
		}

		device = link.New(link.NewBLETransport(), link.WithDiscoverTimeout(15*time.Second))

		nav, err = castrilha.New(castrilha.Config{
			RouteStore:     mysqlStore,
			Positions:      position.NewTracker(position.NewNMEASource("/dev/ttyACM0", 9600, nil)),
			Dispatcher:     device,
			Router:         routing.NewGoogle(os.Getenv("GOOGLE_MAPS_API_KEY")),
			AppendDistance: true,
		})
	*/

	if err := device.Connect(context.Background(), link.DefaultTarget()); err != nil {
		log.Fatalf("Failed to connect device: %v", err)
	}

	// HTTP handlers
	http.HandleFunc("/plan", planHandler)
	http.HandleFunc("/start", startHandler)
	http.HandleFunc("/stop", stopHandler)
	http.HandleFunc("/status", statusHandler)

	fmt.Println("Castrilha example server running on :8080")
	fmt.Println("Endpoints:")
	fmt.Println("  POST /plan?from=lat,lng&to=lat,lng&name=x - Plan a route and save it")
	fmt.Println("  POST /start?name=xxx                     - Navigate a saved route")
	fmt.Println("  POST /stop                               - Stop navigating")
	fmt.Println("  GET  /status                             - Current session")

	log.Fatal(http.ListenAndServe(":8080", nil))
}

func planHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	name := r.URL.Query().Get("name")
	if from == "" || to == "" || name == "" {
		http.Error(w, "from, to and name required", http.StatusBadRequest)
		return
	}

	route, err := nav.Plan(r.Context(), castrilha.RouteRequest{
		Origin:      castrilha.ParseWaypoint(from),
		Destination: castrilha.ParseWaypoint(to),
		TravelMode:  castrilha.TravelWalking,
	})
	if err != nil {
		http.Error(w, castrilha.UserMessage(err), http.StatusBadGateway)
		return
	}

	// Saved routes keep working without network
	if err := nav.SaveRoute(name, route, true); err != nil {
		http.Error(w, fmt.Sprintf("Failed to save route: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"name":        name,
		"origin":      route.Origin,
		"destination": route.Destination,
		"steps":       len(route.Steps()),
	})
}

func startHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "name required", http.StatusBadRequest)
		return
	}

	route, err := nav.StartSaved(name)
	if err != nil {
		http.Error(w, castrilha.UserMessage(err), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success":     true,
		"destination": route.Destination,
	})
}

func stopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := nav.Stop(); err != nil {
		http.Error(w, fmt.Sprintf("Failed to stop: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
	})
}

func statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := nav.Snapshot()
	response := map[string]interface{}{
		"status": snap.Status,
		"link":   device.State().Status,
	}
	if step, ok := snap.NextStep(); ok {
		response["next"] = step.CleanInstruction()
		response["remaining"] = snap.Remaining()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}
