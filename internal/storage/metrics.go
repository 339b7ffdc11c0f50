package storage

import (
	"encoding/json"

	"github.com/gowthamrao/py-load-clinicaltrialsgov/internal/studies"
)

func metricsToJSON(m studies.Metrics) ([]byte, error) {
	return json.Marshal(m)
}
