// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation:
//
//	instance:
//	  id: gate-dashboard-1
//	api:
//	  rest_url: http://parking.local:8000/api/v1
//	  ws_url: ws://parking.local:8000/ws
//	  token_file: /run/secrets/parking-token
//	feeds:
//	  events_capacity: 50
//	  resync_interval: 5m
//	notify:
//	  mqtt:
//	    enabled: true
//	    broker: tcp://display-hub:1883
//	    password: ${MQTT_PASSWORD}
package config
