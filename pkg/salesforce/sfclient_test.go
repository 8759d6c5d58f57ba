package salesforce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	gosf "github.com/k-capehart/go-salesforce/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSFClient creates an sfClient backed by an httptest server.
func newTestSFClient(t *testing.T, handler http.Handler) (Client, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)

	sf, err := gosf.Init(gosf.Creds{
		AccessToken: "test-token",
		Domain:      ts.URL,
	},
		gosf.WithValidateAuthentication(false),
		gosf.WithRoundTripper(http.DefaultTransport),
	)
	require.NoError(t, err)
	require.NotNil(t, sf)

	return NewClient(sf), ts
}

func TestSFClient_UpsertCollection(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			assert.Contains(t, r.URL.Path, "/composite/sobjects/Account/Domain__c")
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"id": "001xx", "success": true, "errors": []any{}},
				{"id": "002xx", "success": true, "errors": []any{}},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	client, ts := newTestSFClient(t, handler)
	defer ts.Close()

	records := []map[string]any{
		{"Domain__c": "acme.com", "Name": "Acme"},
		{"Domain__c": "globex.com", "Name": "Globex"},
	}
	results, err := client.UpsertCollection(context.Background(), "Account", "Domain__c", records)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.Equal(t, "001xx", results[0].ID)
}

func TestSFClient_UpsertCollection_RecordRejected(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"id": "001xx", "success": true, "errors": []any{}},
				{"id": "", "success": false, "errors": []map[string]any{
					{"message": "Required fields are missing: [LastName]", "statusCode": "REQUIRED_FIELD_MISSING"},
				}},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	client, ts := newTestSFClient(t, handler)
	defer ts.Close()

	records := []map[string]any{
		{"Email__c": "amy@acme.com", "LastName": "Liu"},
		{"Email__c": "bob@acme.com"},
	}
	results, err := client.UpsertCollection(context.Background(), "Contact", "Email__c", records)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	require.Len(t, results[1].Errors, 1)
	assert.Contains(t, results[1].Errors[0], "LastName")
}

func TestSFClient_UpsertCollection_Error(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"message": "invalid external id field", "errorCode": "NOT_FOUND"},
		})
	})

	client, ts := newTestSFClient(t, handler)
	defer ts.Close()

	records := []map[string]any{
		{"Domain__c": "acme.com", "Name": "Acme"},
	}
	_, err := client.UpsertCollection(context.Background(), "Account", "Domain__c", records)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sf: upsert collection")
}

func TestSFClient_DescribeSObject(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// go-salesforce constructs URL as: InstanceUrl + /services/data/vXX.X + uri
		assert.Contains(t, r.URL.Path, "/sobjects/Account/describe")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":  "Account",
			"label": "Account",
			"fields": []map[string]any{
				{"name": "Id", "label": "Account ID", "type": "id", "length": 18, "updateable": false, "externalId": false},
				{"name": "Domain__c", "label": "Domain", "type": "string", "length": 255, "updateable": true, "externalId": true},
			},
		})
	})

	client, ts := newTestSFClient(t, handler)
	defer ts.Close()

	desc, err := client.DescribeSObject(context.Background(), "Account")
	require.NoError(t, err)
	require.NotNil(t, desc)
	assert.Equal(t, "Account", desc.Name)
	require.Len(t, desc.Fields, 2)

	f := desc.Field("Domain__c")
	require.NotNil(t, f)
	assert.True(t, f.ExternalID)
	assert.True(t, f.Updateable)
	assert.False(t, desc.Fields[0].ExternalID)
}

func TestSFClient_DescribeSObject_Error(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"message": "sobject not found", "errorCode": "NOT_FOUND"},
		})
	})

	client, ts := newTestSFClient(t, handler)
	defer ts.Close()

	_, err := client.DescribeSObject(context.Background(), "NonExistent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sf: describe")
}
