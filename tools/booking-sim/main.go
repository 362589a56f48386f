package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Posts a booking request against a running appointment-service, for local
// smoke testing together with an SMTP sink such as MailHog.
func main() {
	var (
		baseURL   = flag.String("base-url", getenv("BASE_URL", "http://localhost:8080"), "service base url")
		petID     = flag.String("pet-id", getenv("PET_ID", ""), "registered pet id")
		date      = flag.String("date", getenv("APPT_DATE", time.Now().UTC().AddDate(0, 0, 7).Format("2006-01-02")), "appointment date (YYYY-MM-DD)")
		timeOfDay = flag.String("time", getenv("APPT_TIME", "10:00"), "appointment time (HH:MM), empty to omit")
		reason    = flag.String("reason", getenv("APPT_REASON", "routine checkup"), "visit reason")
		email     = flag.String("email", getenv("CONTACT_EMAIL", "owner@example.com"), "contact email")
	)
	flag.Parse()

	if strings.TrimSpace(*petID) == "" {
		fatal("PET_ID is required")
	}

	payload, err := json.Marshal(map[string]string{
		"pet_id":        *petID,
		"date":          *date,
		"time":          *timeOfDay,
		"reason":        *reason,
		"contact_email": *email,
	})
	if err != nil {
		fatal(err.Error())
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/api/v1/appointments", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("status=%d\n%s\n", resp.StatusCode, body)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
