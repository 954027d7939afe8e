package config

var defaults = map[string]any{
	"log_level": "info",

	"approvers": []string{},
	"services":  map[string]string{},

	"pool.start": "10.8.0.2",
	"pool.size":  253,

	"credential.download_url": "https://vpn.example.com/keys/{requester}/{credential_id}.zip",

	"scripts.make_key":      "./scripts/make-key.sh",
	"scripts.update_access": "./scripts/update-access.sh",

	"notify.host":     "localhost",
	"notify.port":     25,
	"notify.username": "",
	"notify.password": "",
	"notify.from":     "vpn-access-bot@example.com",

	"http.listen":      ":8080",
	"allowed_networks": "",

	"storage.local.path": "./data/storage.db",
}

func Defaults() map[string]any {
	values := make(map[string]any)
	for k, v := range defaults {
		values[k] = v
	}
	return values
}
