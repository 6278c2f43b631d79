// Command rotator_logger records the rotatord status stream in InfluxDB.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
)

var (
	org         = flag.String("org", "w1xm", "InfluxDB organization")
	bucket      = flag.String("bucket", "rotator.raw", "InfluxDB bucket")
	measurement = flag.String("measurement", "rotator.status", "measurement name for status points")
)

func main() {
	flag.Parse()
	// Create client
	server := os.Getenv("INFLUX_SERVER")
	if server == "" {
		server = "http://localhost:9999"
	}
	client := influxdb2.NewClient(server, os.Getenv("INFLUX_TOKEN"))
	defer client.Close()
	// Get non-blocking write client
	writeApi := client.WriteApi(*org, *bucket)
	defer writeApi.Close()
	// Get errors channel
	errorsCh := writeApi.Errors()
	// Create go proc for reading and logging errors
	go func() {
		for err := range errorsCh {
			log.Printf("write error: %v", err)
		}
	}()
	for {
		if err := logData(writeApi); err != nil {
			log.Print(err)
		}
		time.Sleep(1 * time.Second)
	}
}

// flattenStatus turns nested JSON into dotted field names. Booleans become
// 0 or 1 so they can be graphed next to the numbers.
func flattenStatus(fields map[string]interface{}, status interface{}, prefix string) {
	switch status := status.(type) {
	case map[string]interface{}:
		for k, v := range status {
			flattenStatus(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for k, v := range status {
			flattenStatus(fields, v, fmt.Sprintf("%s.%d", prefix, k))
		}
	case bool:
		if status {
			fields[prefix[1:]] = 1
		} else {
			fields[prefix[1:]] = 0
		}
	case nil:
	default:
		fields[prefix[1:]] = status
	}
}

// pointTime is the controller's pass time, falling back to now.
func pointTime(status interface{}) time.Time {
	m, ok := status.(map[string]interface{})
	if !ok {
		return time.Now()
	}
	s, ok := m["at"].(string)
	if !ok {
		return time.Now()
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Now()
	}
	return t
}

func logData(writeApi api.WriteApi) error {
	url := os.Getenv("ROTATOR_ADDRESS")
	if url == "" {
		url = "ws://localhost:8502/api/ws"
	}
	defer writeApi.Flush()
	var dialer websocket.Dialer
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	for {
		var status interface{}
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		fields := make(map[string]interface{})
		flattenStatus(fields, status, "")
		delete(fields, "at")

		p := influxdb2.NewPoint(*measurement,
			nil,
			fields,
			pointTime(status),
		)
		// write asynchronously
		writeApi.WritePoint(p)
	}
}
