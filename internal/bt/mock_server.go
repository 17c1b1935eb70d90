package bt

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
)

// Handler serves the mock inspection UI:
//
//	GET  /api/state   simulated pads
//	GET  /api/writes  write log
//	POST /api/button  ?address=  press the remote's start/stop button
//	POST /api/drop    ?address=  drop the link
//	POST /api/notify  ?address=&char=&hex=  push a raw notification
func (m *MockTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", m.handleIndex)
	mux.HandleFunc("/api/state", m.handleGetState)
	mux.HandleFunc("/api/writes", m.handleGetWrites)
	mux.HandleFunc("/api/button", m.handlePressButton)
	mux.HandleFunc("/api/drop", m.handleDropLink)
	mux.HandleFunc("/api/notify", m.handleNotify)
	return mux
}

func (m *MockTransport) simulator(address string) *SimulatedPad {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sim := range m.simulators {
		if sim.address == address {
			return sim
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m *MockTransport) handleGetState(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	sims := append([]*SimulatedPad(nil), m.simulators...)
	m.mu.RUnlock()

	states := make([]SimulatedPadState, 0, len(sims))
	for _, sim := range sims {
		states = append(states, sim.State())
	}
	writeJSON(w, states)
}

func (m *MockTransport) handleGetWrites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, m.Writes())
}

func (m *MockTransport) handlePressButton(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sim := m.simulator(r.URL.Query().Get("address"))
	if sim == nil {
		http.Error(w, "unknown address", http.StatusNotFound)
		return
	}
	sim.PressButton()
	w.WriteHeader(http.StatusOK)
}

func (m *MockTransport) handleDropLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m.DropLink(r.URL.Query().Get("address"))
	w.WriteHeader(http.StatusOK)
}

func (m *MockTransport) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	data, err := hex.DecodeString(q.Get("hex"))
	if err != nil {
		http.Error(w, "bad hex: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := m.Notify(q.Get("address"), q.Get("char"), data); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (m *MockTransport) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(indexHTML))
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Mock WalkingPad</title>
    <style>
        body { font-family: Arial, sans-serif; max-width: 900px; margin: 0 auto; padding: 20px; }
        .section { margin: 20px 0; padding: 15px; border: 1px solid #ccc; border-radius: 5px; }
        .pad { padding: 10px; background: #e0e0e0; border-radius: 5px; margin: 10px 0; }
        #writes { max-height: 400px; overflow-y: auto; font-family: monospace; font-size: 12px; }
        .write-entry { padding: 5px; border-bottom: 1px solid #eee; }
        .write-time { color: #666; }
        .write-desc { color: #009; font-weight: bold; }
        button { padding: 8px 16px; margin: 4px; cursor: pointer; }
    </style>
</head>
<body>
    <h1>Mock WalkingPad</h1>
    <div class="section">
        <h2>Pads</h2>
        <div id="pads">Loading...</div>
    </div>
    <div class="section">
        <h2>Written Values (from app)</h2>
        <div id="writes">Loading...</div>
    </div>
    <script>
        function post(path, address) {
            fetch(path + '?address=' + encodeURIComponent(address), {method: 'POST'}).then(refresh);
        }
        function refresh() {
            fetch('/api/state').then(r => r.json()).then(pads => {
                document.getElementById('pads').innerHTML = pads.map(p =>
                    '<div class="pad"><b>' + p.name + '</b> (' + p.address + ', ' + p.protocol + ')<br>' +
                    'Connected: ' + p.connected + ', subscriptions: ' + p.subscriptions + '<br>' +
                    'Belt: ' + p.belt + ', mode: ' + p.mode + ', ' + p.speedKmh.toFixed(1) + ' km/h<br>' +
                    p.seconds + ' s, ' + p.km.toFixed(2) + ' km' + (p.sleeping ? ', sleeping' : '') + '<br>' +
                    '<button onclick="post(\'/api/button\', \'' + p.address + '\')">Remote button</button>' +
                    '<button onclick="post(\'/api/drop\', \'' + p.address + '\')">Drop link</button></div>'
                ).join('');
            });
            fetch('/api/writes').then(r => r.json()).then(writes => {
                const html = (writes || []).map(w =>
                    '<div class="write-entry">' +
                    '<span class="write-time">' + new Date(w.timestamp).toLocaleTimeString() + '</span> ' +
                    '<span class="write-desc">' + w.description + '</span><br>' +
                    w.characteristicUuid + ': ' + w.dataHex +
                    '</div>'
                ).reverse().join('');
                document.getElementById('writes').innerHTML = html || 'No writes yet';
            });
        }
        refresh();
        setInterval(refresh, 2000);
    </script>
</body>
</html>`
