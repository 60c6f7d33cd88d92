package flows

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/flowd/internal/models"
	"github.com/ternarybob/flowd/internal/transform"
)

// staticResolver hands back the secret definition's own fields, standing in
// for the real resolver in REST authentication tests.
type staticResolver struct{}

func (staticResolver) Resolve(def models.SecretDefinition) (map[string]interface{}, error) {
	return map[string]interface{}{
		"username": def.Username,
		"password": def.Password,
		"token":    def.Token,
	}, nil
}

func TestSetFactTemplatesValues(t *testing.T) {
	env := newTestEnv(t)
	writeFlow(t, env, "facts.yml", `
name: facts
steps:
  - name: A
    type: set_fact
    value:
      n: 2
  - name: B
    type: set_fact
    value:
      n: "{{ A.n + 1 }}"
      fixed: 7
`)

	data, status := runFlow(t, env, "facts.yml", nil)

	assert.Equal(t, StatusSuccess, status.Type)
	assert.Equal(t, map[string]interface{}{"n": "3", "fixed": 7}, data["B"])
}

func TestFileStepRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	writeFlow(t, env, "files.yml", `
name: files
steps:
  - name: A
    type: set_fact
    value:
      color: green
  - name: W
    type: file
    file:
      path: "out/{{ __timestamp__ }}.yml"
      mode: write
      data_key: A
  - name: R
    type: file
    file:
      path: "out/{{ __timestamp__ }}.yml"
      mode: read
`)

	data, status := runFlow(t, env, "files.yml", nil)

	assert.Equal(t, StatusSuccess, status.Type)
	assert.Equal(t, map[string]interface{}{"color": "green"}, data["R"])
}

func TestFileStepJSONWrite(t *testing.T) {
	env := newTestEnv(t)
	writeFlow(t, env, "json.yml", `
name: json
steps:
  - name: A
    type: set_fact
    value:
      k: v
  - name: W
    type: file
    file:
      path: out.json
      type: json
      mode: write
      data_key: A
`)

	_, status := runFlow(t, env, "json.yml", nil)
	require.Equal(t, StatusSuccess, status.Type)

	raw, err := os.ReadFile(filepath.Join(env.DataPath, "out.json"))
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, map[string]interface{}{"k": "v"}, decoded)
}

func TestFileStepWriteRequiresDataKey(t *testing.T) {
	env := newTestEnv(t)
	writeFlow(t, env, "nokey.yml", `
name: nokey
steps:
  - name: W
    type: file
    file:
      path: out.yml
      mode: write
`)

	_, status := runFlow(t, env, "nokey.yml", nil)
	assert.Equal(t, StatusFailed, status.Type)
}

func TestJinjaStepRendersAndParses(t *testing.T) {
	env := newTestEnv(t)
	template := `{"greeting": "hello {{ name }}"}`
	require.NoError(t, os.WriteFile(filepath.Join(env.TemplatesPath, "greet.j2"), []byte(template), 0644))

	writeFlow(t, env, "jinja.yml", `
name: jinja
steps:
  - name: A
    type: set_fact
    value:
      name: ops
  - name: B
    type: jinja
    jinja:
      path: greet.j2
      parse: json
      data_key: A
`)

	data, status := runFlow(t, env, "jinja.yml", nil)

	assert.Equal(t, StatusSuccess, status.Type)
	assert.Equal(t, map[string]interface{}{"greeting": "hello ops"}, data["B"])
}

func TestJqStepIdentityIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	writeFlow(t, env, "identity.yml", `
name: identity
steps:
  - name: A
    type: set_fact
    value:
      n: 1
      list: [a, b]
  - name: B
    type: jq
    jq:
      expression: "."
      data_key: A
`)

	data, status := runFlow(t, env, "identity.yml", nil)

	assert.Equal(t, StatusSuccess, status.Type)
	assert.Equal(t, data["A"], data["B"])
}

func TestSwitchStepFirstMatchWins(t *testing.T) {
	env := newTestEnv(t)
	writeFlow(t, env, "switch.yml", `
name: switch
steps:
  - name: A
    type: set_fact
    value: beta
  - name: S
    type: switch
    switch:
      data_key: A
      cases:
        - when: alpha
          step:
            name: wrong
            type: set_fact
            value:
              picked: alpha
        - when: beta
          step:
            name: picked
            type: set_fact
            value:
              picked: beta
`)

	data, status := runFlow(t, env, "switch.yml", nil)

	assert.Equal(t, StatusSuccess, status.Type)
	assert.NotContains(t, data, "wrong")
	assert.Equal(t, map[string]interface{}{"picked": "beta"}, data["picked"])
}

func TestSwitchStepInnerGoto(t *testing.T) {
	env := newTestEnv(t)
	writeFlow(t, env, "switchgoto.yml", `
name: switchgoto
steps:
  - name: A
    type: set_fact
    value: skip
  - name: S
    type: switch
    switch:
      data_key: A
      cases:
        - when: skip
          step:
            name: jump
            type: goto
            goto:
              step_name: __end__
  - name: B
    type: set_fact
    value:
      ran: true
`)

	data, status := runFlow(t, env, "switchgoto.yml", nil)

	assert.Equal(t, StatusSuccess, status.Type)
	assert.NotContains(t, data, "B")
}

func TestSleepStepCompletes(t *testing.T) {
	env := newTestEnv(t)
	writeFlow(t, env, "nap.yml", `
name: nap
steps:
  - name: A
    type: sleep
    sleep:
      seconds: 0
`)

	data, status := runFlow(t, env, "nap.yml", nil)

	assert.Equal(t, StatusSuccess, status.Type)
	assert.Equal(t, map[string]interface{}{}, data["A"])
}

func TestDebugStepKeepsDataUnchanged(t *testing.T) {
	env := newTestEnv(t)
	writeFlow(t, env, "dbg.yml", `
name: dbg
steps:
  - name: A
    type: set_fact
    value:
      k: v
  - name: B
    type: debug
    debug:
      type: json
      data_key: A
`)

	data, status := runFlow(t, env, "dbg.yml", nil)

	assert.Equal(t, StatusSuccess, status.Type)
	assert.Equal(t, data["A"], data["B"])
}

func TestDebugStepWholeBoardStaysSanitizable(t *testing.T) {
	env := newTestEnv(t)
	writeFlow(t, env, "dump.yml", `
name: dump
steps:
  - name: A
    type: set_fact
    value:
      k: v
  - name: B
    type: debug
    debug:
      type: text
`)

	data, status := runFlow(t, env, "dump.yml", nil)

	require.Equal(t, StatusSuccess, status.Type)

	// The whole-board dump lands under B as a detached copy, never the live
	// board itself, so persisting the result terminates.
	dump, ok := data["B"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"k": "v"}, dump["A"])

	safe, ok := transform.JSONSafe(map[string]interface{}(data)).(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, safe, "B")
}

func TestRestStepDecodesResponse(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok", "items": [1, 2]}`))
	}))
	defer server.Close()

	env := newTestEnv(t)
	writeFlow(t, env, "rest.yml", `
name: rest
steps:
  - name: A
    type: rest
    rest:
      uri: `+server.URL+`
      query:
        page: 1
`)

	data, status := runFlow(t, env, "rest.yml", nil)

	assert.Equal(t, StatusSuccess, status.Type)
	assert.Equal(t, "page=1", gotQuery)
	result := data["A"].(map[string]interface{})
	assert.Equal(t, "ok", result["status"])
}

func TestRestStepPostsBody(t *testing.T) {
	var gotBody map[string]interface{}
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"accepted": true}`))
	}))
	defer server.Close()

	env := newTestEnv(t)
	secrets := `
- name: svc
  type: credential
  username: bob
  password: hunter2
`
	require.NoError(t, os.WriteFile(env.SecretsPath, []byte(secrets), 0644))
	env.Secrets = staticResolver{}

	writeFlow(t, env, "post.yml", `
name: post
steps:
  - name: A
    type: set_fact
    value:
      payload: data
  - name: B
    type: rest
    rest:
      uri: `+server.URL+`
      method: POST
      data_key: A
      authentication:
        type: basic
        secret: svc
`)

	data, status := runFlow(t, env, "post.yml", nil)

	assert.Equal(t, StatusSuccess, status.Type)
	assert.Equal(t, map[string]interface{}{"payload": "data"}, gotBody)
	assert.Equal(t, "Basic Ym9iOmh1bnRlcjI=", gotAuth)
	assert.Equal(t, map[string]interface{}{"accepted": true}, data["B"])
}

func TestRestStepFailureRecordKeepsStatusAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"detail": "upstream broke"}`))
	}))
	defer server.Close()

	env := newTestEnv(t)
	writeFlow(t, env, "broken.yml", `
name: broken
steps:
  - name: A
    type: rest
    rest:
      uri: `+server.URL+`
`)

	data, status := runFlow(t, env, "broken.yml", nil)

	assert.Equal(t, StatusFailed, status.Type)
	require.Len(t, data.Errors(), 1)
	record := data.Errors()[0].(map[string]interface{})
	assert.Equal(t, "A", record["step"])

	detail, ok := record["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, detail["status_code"])
	assert.Equal(t, map[string]interface{}{"detail": "upstream broke"}, detail["body"])
}

func TestRestStepUnknownSecretFailsStep(t *testing.T) {
	env := newTestEnv(t)
	writeFlow(t, env, "nosecret.yml", `
name: nosecret
steps:
  - name: A
    type: rest
    rest:
      uri: http://127.0.0.1:1
      authentication:
        type: token
        secret: ghost
`)

	data, status := runFlow(t, env, "nosecret.yml", nil)

	assert.Equal(t, StatusFailed, status.Type)
	assert.Contains(t, status.Message, "ghost")
	assert.Len(t, data.Errors(), 1)
}

func TestFlowStepRunsChild(t *testing.T) {
	env := newTestEnv(t)
	writeFlow(t, env, "child.yml", `
name: child
steps:
  - name: E
    type: jq
    jq:
      expression: ".v"
      data_key: __input__
`)
	writeFlow(t, env, "parent.yml", `
name: parent
steps:
  - name: A
    type: set_fact
    value:
      v: 5
  - name: sub
    type: flow
    flow:
      path: child.yml
      data_key: A
`)

	data, status := runFlow(t, env, "parent.yml", nil)

	assert.Equal(t, StatusSuccess, status.Type)
	child := data["sub"].(map[string]interface{})
	assert.Equal(t, 5, child["E"])
}

func TestFlowLoopStepFansOut(t *testing.T) {
	env := newTestEnv(t)
	writeFlow(t, env, "item.yml", `
name: item
steps:
  - name: E
    type: jq
    jq:
      expression: ".v"
      data_key: __input__
`)
	writeFlow(t, env, "loop.yml", `
name: loop
steps:
  - name: items
    type: set_fact
    value:
      - v: 10
      - v: 20
  - name: fan
    type: flow_loop
    flow_loop:
      path: item.yml
      data_key: items
`)

	data, status := runFlow(t, env, "loop.yml", nil)

	assert.Equal(t, StatusSuccess, status.Type)
	results := data["fan"].([]interface{})
	require.Len(t, results, 2)

	indexes := map[int]bool{}
	for _, raw := range results {
		board := raw.(map[string]interface{})
		indexes[board[KeyLoopIndex].(int)] = true
	}
	assert.Equal(t, map[int]bool{1: true, 2: true}, indexes)
}

func TestFlowLoopStepCollectsChildErrors(t *testing.T) {
	env := newTestEnv(t)
	writeFlow(t, env, "flaky.yml", `
name: flaky
steps:
  - name: E
    type: file
    ignore_errors:
      - ".*"
    file:
      path: missing.yml
`)
	writeFlow(t, env, "loop.yml", `
name: loop
steps:
  - name: items
    type: set_fact
    value:
      - v: 1
      - v: 2
  - name: fan
    type: flow_loop
    flow_loop:
      path: flaky.yml
      data_key: items
`)

	data, status := runFlow(t, env, "loop.yml", nil)

	assert.Equal(t, StatusSuccess, status.Type)
	assert.Len(t, data.Errors(), 2)
}

func TestFlowLoopStepRequiresList(t *testing.T) {
	env := newTestEnv(t)
	writeFlow(t, env, "badloop.yml", `
name: badloop
steps:
  - name: scalar
    type: set_fact
    value:
      k: v
  - name: fan
    type: flow_loop
    flow_loop:
      path: whatever.yml
      data_key: scalar
`)

	_, status := runFlow(t, env, "badloop.yml", nil)
	assert.Equal(t, StatusFailed, status.Type)
}

func TestJiraNamesMergeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	payload := map[string]interface{}{
		"issues": []interface{}{
			map[string]interface{}{
				"key": "OPS-1",
				"fields": map[string]interface{}{
					"summary":           "fix it",
					"customfield_10001": float64(5),
					"customfield_10002": "ignored-no-name",
					"empty":             []interface{}{},
					"gone":              nil,
				},
			},
		},
		"names": map[string]interface{}{
			"customfield_10001": "Story Points",
		},
	}

	writeFlow(t, env, "jira.yml", `
name: jira
steps:
  - name: merged
    type: jira_names_merge
    jira_names_merge:
      data_key: __input__
`)

	data, status := runFlow(t, env, "jira.yml", payload)
	require.Equal(t, StatusSuccess, status.Type)

	issues := data["merged"].([]interface{})
	require.Len(t, issues, 1)
	fields := issues[0].(map[string]interface{})["fields"].(map[string]interface{})

	assert.Equal(t, float64(5), fields["story_points"])
	assert.Equal(t, "fix it", fields["summary"])
	assert.Equal(t, "ignored-no-name", fields["customfield_10002"])
	assert.NotContains(t, fields, "customfield_10001")
	assert.NotContains(t, fields, "empty")
	assert.NotContains(t, fields, "gone")

	// Second pass over the merged output changes nothing
	second := map[string]interface{}{
		"issues": issues,
		"names":  payload["names"],
	}
	writeFlow(t, env, "again.yml", `
name: again
steps:
  - name: merged
    type: jira_names_merge
    jira_names_merge:
      data_key: __input__
`)
	redata, restatus := runFlow(t, env, "again.yml", second)
	require.Equal(t, StatusSuccess, restatus.Type)
	assert.Equal(t, issues, redata["merged"])
}
