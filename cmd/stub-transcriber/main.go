// Command stub-transcriber is a local stand-in for the transcription API.
// It accepts the multipart upload the service sends, logs what arrived, and
// answers with a canned transcript.
package main

import (
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/skypro1111/voice-capture-service/internal/audio"
)

type transcriptionResponse struct {
	Text        string    `json:"text"`
	ProcessedAt time.Time `json:"processed_at"`
}

var (
	listenAddr = flag.String("addr", ":9000", "Listen address")
	replyText  = flag.String("text", "this is a stub transcription", "Transcript text to return")
	delay      = flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
)

func transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		http.Error(w, "Missing audio field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	log.Printf("Transcription request received:")
	log.Printf("  Request ID: %s", r.Header.Get("X-Request-ID"))
	log.Printf("  Filename: %s", header.Filename)
	log.Printf("  Size: %d bytes", len(audioData))
	log.Printf("  Content-Type: %s", header.Header.Get("Content-Type"))

	if strings.HasSuffix(header.Filename, ".wav") {
		if duration, err := audio.GetWAVDuration(audioData); err == nil {
			log.Printf("  Duration: %.2f seconds", duration)
		} else {
			log.Printf("  Duration: unreadable (%v)", err)
		}
	}

	// Simulate processing time
	time.Sleep(*delay)

	response := transcriptionResponse{
		Text:        *replyText,
		ProcessedAt: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)

	log.Printf("Transcription response sent: %q", response.Text)
}

func main() {
	flag.Parse()

	http.HandleFunc("/transcribe", transcribeHandler)

	log.Printf("Stub transcription server starting on %s", *listenAddr)
	log.Printf("Point transcription.endpoint at http://localhost%s/transcribe", *listenAddr)

	if err := http.ListenAndServe(*listenAddr, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
