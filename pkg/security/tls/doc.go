/*
Package tls serves the admin API over TLS.

	server:
	  tls:
	    enabled: true
	    cert_file: /etc/ironbee/tls/admin.crt
	    key_file: /etc/ironbee/tls/admin.key
	    min_version: "1.3"
	    cert_reload_interval: 5m
	    client_ca_file: /etc/ironbee/tls/clients.pem   # optional, requires client certs

The certificate is served through a CertificateReloader, so renewed files
take effect without restarting:

	reloader := cfg.Reloader()
	if err := reloader.Start(ctx); err != nil {
		return err
	}
	tlsConfig, err := cfg.ServerConfig(reloader)
*/
package tls
